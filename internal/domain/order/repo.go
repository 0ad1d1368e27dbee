package order

import (
	"context"
)

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	Update(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Order, int, error)
	ListByStatuses(ctx context.Context, statuses []Status) ([]*Order, error)
	// Ordered tests
	AddTest(ctx context.Context, orderID, testID int64) error
	ListTests(ctx context.Context, orderID int64) ([]int64, error)
	// Samples
	CreateSample(ctx context.Context, s *Sample) error
	ListSamples(ctx context.Context, orderID int64) ([]*Sample, error)
	DeleteSample(ctx context.Context, orderID, sampleID int64) error
}
