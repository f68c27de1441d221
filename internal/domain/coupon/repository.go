package coupon

import "context"

// Repository provides access to coupon storage. UpdateWithVersion performs a
// compare-and-swap keyed on the model's version; it fails with
// ErrVersionConflict when another writer got there first, which Redeem uses
// as its retry signal.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	Get(ctx context.Context, id string) (*Coupon, error)
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	UpdateWithVersion(ctx context.Context, c *Coupon) error
	List(ctx context.Context) ([]*Coupon, error)
}
