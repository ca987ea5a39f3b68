package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Origin is the raw, unverified source of a call. The ledger never inspects it
// directly; an Authenticator resolves it into an AccountID.
type Origin interface {
	origin()
}

// SignedOrigin is an origin already vouched for by a trusted in-process caller.
type SignedOrigin struct {
	Account AccountID
}

func (SignedOrigin) origin() {}

// Signed returns an origin signed by id.
func Signed(id AccountID) Origin {
	return SignedOrigin{Account: id}
}

// BearerOrigin carries a raw bearer token taken from a request.
type BearerOrigin string

func (BearerOrigin) origin() {}

// NoOrigin is an unsigned origin. It never authenticates.
type NoOrigin struct{}

func (NoOrigin) origin() {}

// Authenticator resolves a raw origin into a verified account identifier.
type Authenticator interface {
	Authenticate(ctx context.Context, origin Origin) (AccountID, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, origin Origin) (AccountID, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, origin Origin) (AccountID, error) {
	return f(ctx, origin)
}

// SignedAuthenticator accepts SignedOrigin values and rejects everything else.
type SignedAuthenticator struct{}

// Authenticate returns the signer of a signed origin.
func (SignedAuthenticator) Authenticate(_ context.Context, origin Origin) (AccountID, error) {
	signed, ok := origin.(SignedOrigin)
	if !ok {
		return "", fmt.Errorf("%w: origin is not signed", ErrAuthenticationFailed)
	}
	if strings.TrimSpace(string(signed.Account)) == "" {
		return "", fmt.Errorf("%w: empty signer", ErrAuthenticationFailed)
	}
	return signed.Account, nil
}
