// Package reconcile pulls tests, sample types, referrers and order statuses
// from the LIS and folds them into the local database.
package reconcile

import (
	"context"

	"github.com/labdesk/labdesk/internal/platform/events"
	"github.com/labdesk/labdesk/internal/platform/lis"
)

const (
	JobOrders      = "orders"
	JobReferrers   = "referrers"
	JobTests       = "tests"
	JobSampleTypes = "sample-types"
)

// Job is one reconciliation pass. Run is called inside a transaction; an
// error rolls back everything the pass wrote.
type Job interface {
	Name() string
	Run(ctx context.Context) (Result, error)
}

// Overlapper is implemented by jobs whose pass also writes the tables of
// other jobs. The runner holds those jobs' locks for the whole pass.
type Overlapper interface {
	Overlaps() []string
}

// Payload is a raw remote response body kept for the archive.
type Payload struct {
	Source string
	Body   []byte
}

// Result counts what a pass did. Events and payloads are handed to the
// runner, which publishes and archives them.
type Result struct {
	Created     int  `json:"created"`
	Updated     int  `json:"updated"`
	Unchanged   int  `json:"unchanged"`
	Skipped     int  `json:"skipped"`
	Deactivated int  `json:"deactivated"`
	Noop        bool `json:"noop,omitempty"`

	// SampleTypes holds the sample-type pass run ahead of a test pass.
	SampleTypes *Result `json:"sample_types,omitempty"`

	Events   []events.Event `json:"-"`
	Payloads []Payload      `json:"-"`
}

func (r *Result) keep(source string, resp *lis.Response) {
	if resp == nil || len(resp.Body()) == 0 {
		return
	}
	r.Payloads = append(r.Payloads, Payload{Source: source, Body: resp.Body()})
}

func (r Result) counts() map[string]int {
	return map[string]int{
		"created":     r.Created,
		"updated":     r.Updated,
		"unchanged":   r.Unchanged,
		"skipped":     r.Skipped,
		"deactivated": r.Deactivated,
	}
}
