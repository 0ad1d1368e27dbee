package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/labdesk/labdesk/internal/domain/order"
	"github.com/labdesk/labdesk/internal/platform/events"
	"github.com/labdesk/labdesk/internal/platform/lis"
)

var orderCreated = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func inFlight(id int64, status order.Status) *order.Order {
	return &order.Order{ID: id, PatientID: 1, Status: status, CreatedAt: orderCreated, UpdatedAt: orderCreated}
}

func TestOrderStatusSync_NoInFlightOrdersIsNoop(t *testing.T) {
	orders := newFakeOrders(inFlight(1, order.StatusRequested), inFlight(2, order.StatusReported))
	remote := &fakeRemote{}

	res, err := NewOrderStatusSync(orders, remote, time.UTC, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Noop {
		t.Error("expected noop result")
	}
	if remote.calls != 0 {
		t.Errorf("expected no remote call, got %d", remote.calls)
	}
}

func TestOrderStatusSync_AppliesRemoteState(t *testing.T) {
	orders := newFakeOrders(
		inFlight(1, order.StatusSent),
		inFlight(2, order.StatusProcessing),
		inFlight(3, order.StatusRequested),
	)
	remote := &fakeRemote{statuses: []lis.RemoteOrderStatus{
		{OrderID: "OR.20240301.1", Status: "processing", AcceptanceID: "ACC-1", ReceivedAt: lis.Timestamp{Raw: "2024-03-01 10:15:00"}},
		{OrderID: "OR.20240301.2", Status: "reported", AcceptanceID: "ACC-2"},
		{OrderID: "OR.20240301.999", Status: "reported"},
		{OrderID: "garbage", Status: "reported"},
	}}
	job := NewOrderStatusSync(orders, remote, time.UTC, zerolog.Nop())
	job.now = func() time.Time { return orderCreated.Add(time.Hour) }

	res, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(remote.lastKeys) != 2 || remote.lastKeys[0] != "OR.20240301.1" || remote.lastKeys[1] != "OR.20240301.2" {
		t.Errorf("unexpected correlation keys: %v", remote.lastKeys)
	}
	if res.Updated != 2 || res.Skipped != 2 || res.Unchanged != 0 {
		t.Errorf("unexpected counts: %+v", res)
	}

	o1 := orders.orders[1]
	if o1.Status != order.StatusProcessing || o1.ServerID == nil || *o1.ServerID != "ACC-1" {
		t.Errorf("order 1 not updated: %+v", o1)
	}
	if o1.ReceivedAt == nil || !o1.ReceivedAt.Equal(time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)) {
		t.Errorf("order 1 received_at = %v", o1.ReceivedAt)
	}
	if orders.orders[2].Status != order.StatusReported {
		t.Errorf("order 2 status = %s", orders.orders[2].Status)
	}
	if orders.orders[3].Status != order.StatusRequested {
		t.Error("order outside the in-flight set must not change")
	}

	if len(res.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(res.Events))
	}
	e := res.Events[0]
	if e.Type != events.TypeOrderStatusChanged || e.OrderID != 1 || e.FromStatus != "sent" || e.ToStatus != "processing" {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestOrderStatusSync_UnchangedRecordIsNotWritten(t *testing.T) {
	o := inFlight(5, order.StatusProcessing)
	o.ServerID = strPtr("ACC-5")
	orders := newFakeOrders(o)
	remote := &fakeRemote{statuses: []lis.RemoteOrderStatus{
		{OrderID: "OR.20240301.5", Status: "received", AcceptanceID: "ACC-5"},
	}}

	res, err := NewOrderStatusSync(orders, remote, time.UTC, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Unchanged != 1 || orders.updates != 0 || len(res.Events) != 0 {
		t.Errorf("expected untouched order, got %+v updates=%d", res, orders.updates)
	}
}

func TestOrderStatusSync_OverwritesServerIDUnconditionally(t *testing.T) {
	o := inFlight(6, order.StatusSent)
	o.ServerID = strPtr("OLD")
	orders := newFakeOrders(o)
	remote := &fakeRemote{statuses: []lis.RemoteOrderStatus{{OrderID: "OR.20240301.6", Status: "sent"}}}

	res, err := NewOrderStatusSync(orders, remote, time.UTC, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orders.orders[6].ServerID != nil {
		t.Errorf("expected server id cleared, got %q", *orders.orders[6].ServerID)
	}
	if res.Updated != 1 || len(res.Events) != 0 {
		t.Errorf("expected an update without event, got %+v", res)
	}
}

func TestOrderStatusSync_RemoteFailure(t *testing.T) {
	orders := newFakeOrders(inFlight(1, order.StatusSent))
	svcErr := &lis.ServiceError{Method: http.MethodPost, Endpoint: "x", StatusCode: 500}
	remote := &fakeRemote{err: svcErr}

	_, err := NewOrderStatusSync(orders, remote, time.UTC, zerolog.Nop()).Run(context.Background())
	if !errors.Is(err, svcErr) {
		t.Fatalf("expected service error, got %v", err)
	}
	if orders.updates != 0 {
		t.Error("no order should be written on remote failure")
	}
}

func TestOrderStatusSync_AgainstHTTPClient(t *testing.T) {
	var gotKeys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/login":
			json.NewEncoder(w).Encode(map[string]string{"token": "t"})
		case "/api/orders/status":
			var body struct {
				Orders []string `json:"orders"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			gotKeys = body.Orders
			w.Write([]byte(`{"data":[{"order_id":"OR.20240301.1","status":"reported","acceptance_id":7781,"received_ad":"2024-03-01 11:00:00"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := lis.NewClient(lis.Config{
		BaseURL: srv.URL,
		Paths:   lis.Paths{Orders: "api/orders/status", Login: "api/login"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	orders := newFakeOrders(inFlight(1, order.StatusSent))

	res, err := NewOrderStatusSync(orders, client, time.UTC, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotKeys) != 1 || gotKeys[0] != "OR.20240301.1" {
		t.Errorf("unexpected keys sent: %v", gotKeys)
	}
	o := orders.orders[1]
	if o.Status != order.StatusReported || o.ServerID == nil || *o.ServerID != "7781" {
		t.Errorf("unexpected order: %+v", o)
	}
	if len(res.Payloads) != 1 || res.Payloads[0].Source != JobOrders {
		t.Errorf("expected archived payload, got %+v", res.Payloads)
	}
}
