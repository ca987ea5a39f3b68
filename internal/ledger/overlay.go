package ledger

// overlay stages writes for stores that cannot read their own uncommitted
// writes back. Lookups consult the overlay before the base state.
type overlay struct {
	balances map[AccountID]Balance
	issuance *Balance
}

func newOverlay() *overlay {
	return &overlay{balances: make(map[AccountID]Balance)}
}

func (o *overlay) balance(id AccountID) (Balance, bool) {
	v, ok := o.balances[id]
	return v, ok
}

func (o *overlay) setIssuance(v Balance) {
	o.issuance = &v
}

func (o *overlay) empty() bool {
	return len(o.balances) == 0 && o.issuance == nil
}

// rangeMerged calls fn for every base entry not shadowed by the overlay, then
// for every staged entry.
func (o *overlay) rangeMerged(base map[AccountID]Balance, fn func(AccountID, Balance) error) error {
	for id, v := range base {
		if _, staged := o.balances[id]; staged {
			continue
		}
		if err := fn(id, v); err != nil {
			return err
		}
	}
	for id, v := range o.balances {
		if err := fn(id, v); err != nil {
			return err
		}
	}
	return nil
}
