package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("catalog: not found")

// Test maps to the tests table. ServerID is the LIS identity.
type Test struct {
	ID             int64     `db:"id" json:"id"`
	ServerID       string    `db:"server_id" json:"server_id"`
	Name           string    `db:"name" json:"name"`
	Code           string    `db:"code" json:"code"`
	ShortName      string    `db:"short_name" json:"short_name"`
	Description    *string   `db:"description" json:"description,omitempty"`
	TurnaroundTime *int      `db:"turnaround_time" json:"turnaround_time,omitempty"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`

	SampleTypes []TestSampleType `db:"-" json:"sample_types,omitempty"`
}

// SameAs reports whether the stored columns of t and o are equal.
// Timestamps and loaded associations are ignored.
func (t *Test) SameAs(o *Test) bool {
	return t.ID == o.ID &&
		t.ServerID == o.ServerID &&
		t.Name == o.Name &&
		t.Code == o.Code &&
		t.ShortName == o.ShortName &&
		eqStr(t.Description, o.Description) &&
		eqInt(t.TurnaroundTime, o.TurnaroundTime) &&
		t.IsActive == o.IsActive
}

// SampleType maps to the sample_types table.
type SampleType struct {
	ID               int64     `db:"id" json:"id"`
	ServerID         *string   `db:"server_id" json:"server_id,omitempty"`
	Name             string    `db:"name" json:"name"`
	Orderable        bool      `db:"orderable" json:"orderable"`
	SampleIDRequired bool      `db:"sample_id_required" json:"sample_id_required"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

func (s *SampleType) SameAs(o *SampleType) bool {
	return s.ID == o.ID &&
		eqStr(s.ServerID, o.ServerID) &&
		s.Name == o.Name &&
		s.Orderable == o.Orderable &&
		s.SampleIDRequired == o.SampleIDRequired
}

// TestSampleType is one row of the test_sample_type pivot.
type TestSampleType struct {
	ID             uuid.UUID `db:"id" json:"id"`
	TestID         int64     `db:"test_id" json:"test_id"`
	SampleTypeID   int64     `db:"sample_type_id" json:"sample_type_id"`
	Description    *string   `db:"description" json:"description,omitempty"`
	IsDefault      bool      `db:"is_default" json:"is_default"`
	SampleTypeName string    `db:"-" json:"sample_type_name,omitempty"`
}

func (a TestSampleType) sameAssociation(b TestSampleType) bool {
	return a.TestID == b.TestID &&
		a.SampleTypeID == b.SampleTypeID &&
		eqStr(a.Description, b.Description) &&
		a.IsDefault == b.IsDefault
}

// AssignAssociationIDs gives each desired pivot row the id of an identical
// existing row, or a fresh id when nothing matches. It reports whether the
// resulting set differs from existing.
func AssignAssociationIDs(existing, desired []TestSampleType) ([]TestSampleType, bool) {
	used := make(map[uuid.UUID]bool, len(existing))
	out := make([]TestSampleType, len(desired))
	changed := len(existing) != len(desired)

	for i, d := range desired {
		d.ID = uuid.Nil
		for _, e := range existing {
			if !used[e.ID] && e.sameAssociation(d) {
				d.ID = e.ID
				used[e.ID] = true
				break
			}
		}
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
			changed = true
		}
		out[i] = d
	}
	return out, changed
}

func eqStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
