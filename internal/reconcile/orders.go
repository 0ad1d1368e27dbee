package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/labdesk/labdesk/internal/domain/order"
	"github.com/labdesk/labdesk/internal/platform/events"
	"github.com/labdesk/labdesk/internal/platform/lis"
)

// OrderStore is the subset of order.OrderRepository the status pass needs.
type OrderStore interface {
	ListByStatuses(ctx context.Context, statuses []order.Status) ([]*order.Order, error)
	GetByID(ctx context.Context, id int64) (*order.Order, error)
	Update(ctx context.Context, o *order.Order) error
}

type OrderStatusSource interface {
	OrderStatuses(ctx context.Context, keys []string) ([]lis.RemoteOrderStatus, *lis.Response, error)
}

// OrderStatusSync asks the LIS for the state of every in-flight order and
// applies what comes back.
type OrderStatusSync struct {
	orders OrderStore
	remote OrderStatusSource
	loc    *time.Location
	logger zerolog.Logger
	now    func() time.Time
}

func NewOrderStatusSync(orders OrderStore, remote OrderStatusSource, loc *time.Location, logger zerolog.Logger) *OrderStatusSync {
	if loc == nil {
		loc = time.UTC
	}
	return &OrderStatusSync{orders: orders, remote: remote, loc: loc, logger: logger, now: time.Now}
}

func (j *OrderStatusSync) Name() string { return JobOrders }

func (j *OrderStatusSync) Run(ctx context.Context) (Result, error) {
	var res Result

	inFlight, err := j.orders.ListByStatuses(ctx, order.InFlightStatuses)
	if err != nil {
		return res, fmt.Errorf("list in-flight orders: %w", err)
	}
	if len(inFlight) == 0 {
		res.Noop = true
		return res, nil
	}

	keys := make([]string, 0, len(inFlight))
	for _, o := range inFlight {
		keys = append(keys, CorrelationKey(o, j.loc))
	}

	records, resp, err := j.remote.OrderStatuses(ctx, keys)
	res.keep(JobOrders, resp)
	if err != nil {
		return res, err
	}

	for _, rec := range records {
		id, ok := ParseCorrelationID(rec.OrderID)
		if !ok {
			j.logger.Debug().Str("order_id", rec.OrderID).Msg("unparsable correlation key, skipping")
			res.Skipped++
			continue
		}
		o, err := j.orders.GetByID(ctx, id)
		if errors.Is(err, order.ErrNotFound) {
			j.logger.Debug().Int64("order_id", id).Msg("order not found, skipping")
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("load order %d: %w", id, err)
		}

		before := o.Clone()
		o.Status = MapRemoteStatus(rec.Status, o.Status)
		o.ServerID = rec.AcceptanceID.Ptr()
		o.ReceivedAt = rec.ReceivedAt.In(j.loc)

		if o.SameAs(before) {
			res.Unchanged++
			continue
		}
		if err := j.orders.Update(ctx, o); err != nil {
			return res, fmt.Errorf("update order %d: %w", id, err)
		}
		res.Updated++

		if o.Status != before.Status {
			res.Events = append(res.Events, events.Event{
				Type:       events.TypeOrderStatusChanged,
				OrderID:    o.ID,
				FromStatus: string(before.Status),
				ToStatus:   string(o.Status),
				ServerID:   o.ServerID,
				OccurredAt: j.now().UTC(),
			})
		}
	}
	return res, nil
}
