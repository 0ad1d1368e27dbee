package order

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrNotDeletable      = errors.New("order: only requested or pending orders can be deleted")
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusRequested    Status = "requested"
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusSent         Status = "sent"
	StatusSemiReported Status = "semi_reported"
	StatusReceived     Status = "received"
	StatusReported     Status = "reported"
)

// InFlightStatuses are the statuses whose orders are polled from the LIS.
// Requested and pending orders are not yet accepted remotely; reported is final.
var InFlightStatuses = []Status{StatusProcessing, StatusSent, StatusSemiReported, StatusReceived}

var transitions = map[Status][]Status{
	StatusRequested:    {StatusPending, StatusProcessing},
	StatusPending:      {StatusProcessing, StatusSent},
	StatusProcessing:   {StatusSent, StatusSemiReported, StatusReceived, StatusReported},
	StatusSent:         {StatusReceived, StatusSemiReported, StatusReported},
	StatusReceived:     {StatusSemiReported, StatusReported},
	StatusSemiReported: {StatusReported},
	StatusReported:     nil,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// ParseStatus accepts any casing and surrounding whitespace.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// ValidateTransition checks a controller-driven status change. Setting the
// current status again is allowed.
func ValidateTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("unknown order status %q", to)
	}
	if from == to {
		return nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Order maps to the orders table.
type Order struct {
	ID         int64      `db:"id" json:"id"`
	PatientID  int64      `db:"patient_id" json:"patient_id"`
	ReferrerID *int64     `db:"referrer_id" json:"referrer_id,omitempty"`
	Status     Status     `db:"status" json:"status"`
	ServerID   *string    `db:"server_id" json:"server_id,omitempty"`
	ReceivedAt *time.Time `db:"received_at" json:"received_at,omitempty"`
	Note       *string    `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`

	TestIDs []int64 `db:"-" json:"test_ids,omitempty"`
}

// SameAs reports whether the stored columns of o and p are equal.
func (o *Order) SameAs(p *Order) bool {
	return o.ID == p.ID &&
		o.PatientID == p.PatientID &&
		eqInt64(o.ReferrerID, p.ReferrerID) &&
		o.Status == p.Status &&
		eqStr(o.ServerID, p.ServerID) &&
		eqTime(o.ReceivedAt, p.ReceivedAt) &&
		eqStr(o.Note, p.Note)
}

// Clone copies o including the values behind its pointers.
func (o *Order) Clone() *Order {
	c := *o
	if o.ReferrerID != nil {
		v := *o.ReferrerID
		c.ReferrerID = &v
	}
	if o.ServerID != nil {
		v := *o.ServerID
		c.ServerID = &v
	}
	if o.ReceivedAt != nil {
		v := *o.ReceivedAt
		c.ReceivedAt = &v
	}
	if o.Note != nil {
		v := *o.Note
		c.Note = &v
	}
	c.TestIDs = append([]int64(nil), o.TestIDs...)
	return &c
}

// Sample is a physical specimen collected for an order.
type Sample struct {
	ID           int64      `db:"id" json:"id"`
	OrderID      int64      `db:"order_id" json:"order_id"`
	SampleTypeID int64      `db:"sample_type_id" json:"sample_type_id"`
	SampleID     *string    `db:"sample_id" json:"sample_id,omitempty"`
	CollectedAt  *time.Time `db:"collected_at" json:"collected_at,omitempty"`
	Note         *string    `db:"note" json:"note,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

func eqStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
