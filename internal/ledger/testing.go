package ledger

import "context"

// SeedBalance credits amount to id and total issuance directly, bypassing
// authentication. It is meant for tests and fixtures.
func SeedBalance(ctx context.Context, s Store, id AccountID, amount Balance) error {
	return s.Update(ctx, func(tx Tx) error {
		if err := Mutate(ctx, tx, id, creditBy(amount)); err != nil {
			return err
		}
		return MutateTotalIssuance(ctx, tx, creditBy(amount))
	})
}
