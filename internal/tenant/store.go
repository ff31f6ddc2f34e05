package tenant

import "context"

// Store persists tenant records.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, realm string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
	ListByState(ctx context.Context, state State) ([]*Tenant, error)
	CountByEmail(ctx context.Context, email string) (int, error)
	Update(ctx context.Context, t *Tenant) error
	Delete(ctx context.Context, realm string) error
}
