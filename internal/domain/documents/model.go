package documents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("documents: not found")
	ErrInvalidLink = errors.New("documents: linked test, order or patient does not exist")
)

// Kind classifies a document.
type Kind string

const (
	KindConsent     Kind = "consent"
	KindInstruction Kind = "instruction"
	KindOrderForm   Kind = "order_form"
)

func (k Kind) Valid() bool {
	switch k {
	case KindConsent, KindInstruction, KindOrderForm:
		return true
	}
	return false
}

// Document maps to the documents table. File bytes live in an external store
// referenced by FileKey.
type Document struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Kind        Kind      `db:"kind" json:"kind"`
	Title       string    `db:"title" json:"title"`
	Description *string   `db:"description" json:"description,omitempty"`
	TestID      *int64    `db:"test_id" json:"test_id,omitempty"`
	OrderID     *int64    `db:"order_id" json:"order_id,omitempty"`
	PatientID   *int64    `db:"patient_id" json:"patient_id,omitempty"`
	FileKey     *string   `db:"file_key" json:"file_key,omitempty"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Validate checks the kind, title and which links the kind allows:
// consents attach to a test and optionally a signing patient, instructions
// to a test only, order forms to exactly one order.
func (d *Document) Validate() error {
	d.Kind = Kind(strings.ToLower(strings.TrimSpace(string(d.Kind))))
	if !d.Kind.Valid() {
		return fmt.Errorf("kind must be one of consent, instruction, order_form")
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("title is required")
	}
	switch d.Kind {
	case KindConsent:
		if d.OrderID != nil {
			return fmt.Errorf("a consent cannot be linked to an order")
		}
	case KindInstruction:
		if d.OrderID != nil || d.PatientID != nil {
			return fmt.Errorf("an instruction can only be linked to a test")
		}
	case KindOrderForm:
		if d.OrderID == nil {
			return fmt.Errorf("order_id is required for an order form")
		}
		if d.TestID != nil {
			return fmt.Errorf("an order form cannot be linked to a test")
		}
	}
	return nil
}
