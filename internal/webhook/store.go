package webhook

import "context"

// Store persists webhook registrations and the delivery log.
type Store interface {
	Create(ctx context.Context, w *Webhook) error
	Get(ctx context.Context, id string) (*Webhook, error)
	ListByRealm(ctx context.Context, realm string) ([]*Webhook, error)
	CountByRealm(ctx context.Context, realm string) (int, error)
	Update(ctx context.Context, w *Webhook) error
	Delete(ctx context.Context, id string) error
	DeleteByRealm(ctx context.Context, realm string) error

	// AppendDelivery records one delivery attempt. The log is append-only.
	AppendDelivery(ctx context.Context, d *Delivery) error
	Deliveries(ctx context.Context, webhookID string, limit int) ([]*Delivery, error)
}
