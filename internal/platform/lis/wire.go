package lis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Remote field names are mapped here and nowhere else. Notable quirks:
//
//	orders  received_ad   -> RemoteOrderStatus.ReceivedAt (misspelt upstream)
//	orders  acceptance_id -> RemoteOrderStatus.AcceptanceID (local server_id)
//	tests   fullName      -> RemoteTest.FullName (local name)
//	tests   name          -> RemoteTest.Name (local short_name)
//	tests   status        -> RemoteTest.Status (local is_active)
//	pivot   defaultType   -> RemotePivot.DefaultType (local is_default)
//	sample types required_barcode -> RemoteSampleType.RequiredBarcode (local sample_id_required)
//	referrers phoneNo     -> RemoteReferrer.PhoneNo (local mobile)

type RemoteTest struct {
	ID            Identifier             `json:"id"`
	FullName      string                 `json:"fullName"`
	Code          string                 `json:"code"`
	Name          string                 `json:"name"`
	Description   *string                `json:"description"`
	MaxTurnaround Number                 `json:"methods_max_turnaround_time"`
	Status        FlexBool               `json:"status"`
	SampleTypes   []RemoteTestSampleType `json:"sample_types"`
}

type RemoteTestSampleType struct {
	ID    Identifier  `json:"id"`
	Name  string      `json:"name"`
	Pivot RemotePivot `json:"pivot"`
}

type RemotePivot struct {
	Description *string  `json:"description"`
	DefaultType FlexBool `json:"defaultType"`
}

type RemoteSampleType struct {
	ID              Identifier `json:"id"`
	Name            string     `json:"name"`
	Orderable       FlexBool   `json:"orderable"`
	RequiredBarcode FlexBool   `json:"required_barcode"`
}

type RemoteReferrer struct {
	ID          Identifier     `json:"id"`
	Name        string         `json:"name"`
	Email       *string        `json:"email"`
	PhoneNo     *string        `json:"phoneNo"`
	IsActive    FlexBool       `json:"isActive"`
	BillingInfo FlexMap        `json:"billingInfo"`
	ContactInfo FlexMap        `json:"contactInfo"`
}

type RemoteOrderStatus struct {
	OrderID      string     `json:"order_id"`
	Status       string     `json:"status"`
	AcceptanceID Identifier `json:"acceptance_id"`
	ReceivedAt   Timestamp  `json:"received_ad"`
}

// Identifier accepts a JSON string, number or null. Null decodes to "".
type Identifier string

func (id *Identifier) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = Identifier(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier: %w", err)
	}
	*id = Identifier(n.String())
	return nil
}

func (id Identifier) String() string { return string(id) }

// Ptr returns nil for an empty identifier.
func (id Identifier) Ptr() *string {
	if id == "" {
		return nil
	}
	s := string(id)
	return &s
}

// FlexBool accepts true/false, 1/0 and their string forms ("1", "true",
// "yes", "active"). Null and anything unrecognised decode to false.
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("flexible bool: %w", err)
	}
	switch t := v.(type) {
	case bool:
		*f = FlexBool(t)
	case float64:
		*f = t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y", "active", "on":
			*f = true
		default:
			*f = false
		}
	default:
		*f = false
	}
	return nil
}

// FlexMap accepts a JSON object. The LIS serialises an empty object as [],
// so arrays, null and scalars decode to nil and read as absent.
type FlexMap map[string]any

func (m *FlexMap) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("flexible map: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		*m = nil
		return nil
	}
	*m = obj
	return nil
}

// Number accepts a JSON number or numeric string. Valid is false for null,
// empty or non-numeric input.
type Number struct {
	Value float64
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("number: %w", err)
	}
	*n = Number{}
	switch t := v.(type) {
	case float64:
		*n = Number{Value: t, Valid: true}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			*n = Number{Value: f, Valid: true}
		}
	}
	return nil
}

// TurnaroundHours rounds the remote maximum turnaround up to whole hours.
// Negative or missing values yield nil.
func TurnaroundHours(n Number) *int {
	if !n.Valid || n.Value < 0 || math.IsInf(n.Value, 0) || math.IsNaN(n.Value) {
		return nil
	}
	h := int(math.Ceil(n.Value))
	return &h
}

// Timestamp keeps the remote string verbatim; the zone for zone-less values
// is chosen when the value is read.
type Timestamp struct {
	Raw string
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Raw = ""
	switch x := v.(type) {
	case string:
		t.Raw = strings.TrimSpace(x)
	case float64:
		// epoch seconds
		t.Raw = time.Unix(int64(x), 0).UTC().Format(time.RFC3339)
	}
	return nil
}

var zonedLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00"}

var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// In parses the timestamp, reading zone-less values in loc. Empty or
// unparsable values yield nil.
func (t Timestamp) In(loc *time.Location) *time.Time {
	if t.Raw == "" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range zonedLayouts {
		if v, err := time.Parse(layout, t.Raw); err == nil {
			return &v
		}
	}
	for _, layout := range localLayouts {
		if v, err := time.ParseInLocation(layout, t.Raw, loc); err == nil {
			return &v
		}
	}
	return nil
}
