package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/labdesk/labdesk/internal/domain/catalog"
)

// SampleTypeLookup resolves the sample type of a new sample.
type SampleTypeLookup interface {
	GetByID(ctx context.Context, id int64) (*catalog.SampleType, error)
}

// TxRunner runs fn inside one transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type directTx struct{}

func (directTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type Service struct {
	orders      OrderRepository
	sampleTypes SampleTypeLookup
	tx          TxRunner
}

// NewService builds the order service. A nil tx runs units of work without a
// transaction.
func NewService(orders OrderRepository, sampleTypes SampleTypeLookup, tx TxRunner) *Service {
	if tx == nil {
		tx = directTx{}
	}
	return &Service{orders: orders, sampleTypes: sampleTypes, tx: tx}
}

func (s *Service) CreateOrder(ctx context.Context, o *Order) error {
	if o.PatientID <= 0 {
		return fmt.Errorf("patient_id is required")
	}
	if o.Status == "" {
		o.Status = StatusRequested
	}
	if !o.Status.Valid() {
		return fmt.Errorf("unknown order status %q", o.Status)
	}
	testIDs := uniqueIDs(o.TestIDs)
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, o); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		for _, id := range testIDs {
			if err := s.orders.AddTest(ctx, o.ID, id); err != nil {
				return fmt.Errorf("add test %d to order %d: %w", id, o.ID, err)
			}
		}
		o.TestIDs = testIDs
		return nil
	})
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tests, err := s.orders.ListTests(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load tests of order %d: %w", id, err)
	}
	o.TestIDs = tests
	return o, nil
}

// UpdateOrderStatus moves an order along its lifecycle.
func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, to Status) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(o.Status, to); err != nil {
		return nil, err
	}
	if o.Status == to {
		return o, nil
	}
	o.Status = to
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("update order %d: %w", id, err)
	}
	return o, nil
}

func (s *Service) SearchOrders(ctx context.Context, params map[string]string, limit, offset int) ([]*Order, int, error) {
	if v, ok := params["status"]; ok {
		st, err := ParseStatus(v)
		if err != nil {
			return nil, 0, err
		}
		params["status"] = string(st)
	}
	return s.orders.Search(ctx, params, limit, offset)
}

func (s *Service) DeleteOrder(ctx context.Context, id int64) error {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != StatusRequested && o.Status != StatusPending {
		return ErrNotDeletable
	}
	return s.orders.Delete(ctx, id)
}

// -- Samples --

func (s *Service) AddSample(ctx context.Context, sm *Sample) error {
	if sm.SampleTypeID <= 0 {
		return fmt.Errorf("sample_type_id is required")
	}
	if _, err := s.orders.GetByID(ctx, sm.OrderID); err != nil {
		return err
	}
	st, err := s.sampleTypes.GetByID(ctx, sm.SampleTypeID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("unknown sample type %d", sm.SampleTypeID)
		}
		return err
	}
	if st.SampleIDRequired && (sm.SampleID == nil || *sm.SampleID == "") {
		return fmt.Errorf("sample_id is required for sample type %s", st.Name)
	}
	return s.orders.CreateSample(ctx, sm)
}

func (s *Service) ListSamples(ctx context.Context, orderID int64) ([]*Sample, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.orders.ListSamples(ctx, orderID)
}

func (s *Service) DeleteSample(ctx context.Context, orderID, sampleID int64) error {
	return s.orders.DeleteSample(ctx, orderID, sampleID)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	var out []int64
	for _, id := range ids {
		if id > 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
