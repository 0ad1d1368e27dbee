package documents

import "testing"

func i64(v int64) *int64 { return &v }

func TestDocument_Validate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr bool
	}{
		{"consent for test", Document{Kind: KindConsent, Title: "HIV consent", TestID: i64(1)}, false},
		{"signed consent", Document{Kind: KindConsent, Title: "HIV consent", TestID: i64(1), PatientID: i64(2)}, false},
		{"consent on order", Document{Kind: KindConsent, Title: "x", OrderID: i64(3)}, true},
		{"instruction", Document{Kind: "Instruction", Title: "Fasting"}, false},
		{"instruction with patient", Document{Kind: KindInstruction, Title: "Fasting", PatientID: i64(2)}, true},
		{"order form", Document{Kind: KindOrderForm, Title: "Scan", OrderID: i64(3)}, false},
		{"order form without order", Document{Kind: KindOrderForm, Title: "Scan"}, true},
		{"order form with test", Document{Kind: KindOrderForm, Title: "Scan", OrderID: i64(3), TestID: i64(1)}, true},
		{"unknown kind", Document{Kind: "invoice", Title: "x"}, true},
		{"missing title", Document{Kind: KindInstruction, Title: " "}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.doc
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDocument_ValidateNormalisesKind(t *testing.T) {
	d := Document{Kind: " ORDER_FORM ", Title: "Scan", OrderID: i64(1)}
	if err := d.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Kind != KindOrderForm {
		t.Errorf("expected order_form, got %q", d.Kind)
	}
}
