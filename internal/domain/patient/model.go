package patient

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("patient: not found")

const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

// Patient maps to the patients table. NationalID is stored encrypted when a
// field key is configured.
type Patient struct {
	ID         int64      `db:"id" json:"id"`
	FirstName  string     `db:"first_name" json:"first_name"`
	LastName   string     `db:"last_name" json:"last_name"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender     string     `db:"gender" json:"gender"`
	NationalID *string    `db:"national_id" json:"national_id,omitempty"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	Email      *string    `db:"email" json:"email,omitempty"`
	Address    *string    `db:"address" json:"address,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Normalize trims names and lowercases the gender, defaulting it to unknown.
func (p *Patient) Normalize() {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	if p.Gender == "" {
		p.Gender = GenderUnknown
	}
}

func (p *Patient) Validate() error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	switch p.Gender {
	case GenderMale, GenderFemale, GenderOther, GenderUnknown:
	default:
		return fmt.Errorf("gender must be one of male, female, other, unknown")
	}
	if p.BirthDate != nil && p.BirthDate.After(time.Now()) {
		return fmt.Errorf("birth_date is in the future")
	}
	return nil
}
