package reconcile

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/labdesk/labdesk/internal/domain/catalog"
	"github.com/labdesk/labdesk/internal/platform/lis"
)

func TestSampleTypeSync(t *testing.T) {
	sampleTypes := newFakeSampleTypes(
		&catalog.SampleType{ID: 1, Name: "Serum"},
		&catalog.SampleType{ID: 2, Name: "Old urine name", ServerID: strPtr("U1"), Orderable: true},
		&catalog.SampleType{ID: 3, Name: "Swab", ServerID: strPtr("S1"), Orderable: true},
	)
	remote := &fakeRemote{sampleTypes: []lis.RemoteSampleType{
		{ID: "SER", Name: "Serum", Orderable: true},
		{ID: "U1", Name: "Urine", Orderable: false},
		{ID: "S1", Name: "Swab", Orderable: true},
		{ID: "B1", Name: "Blood", Orderable: true, RequiredBarcode: true},
		{ID: "X"},
	}}

	res, err := NewSampleTypeSync(sampleTypes, remote, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Updated != 2 || res.Unchanged != 1 || res.Created != 1 || res.Skipped != 1 {
		t.Errorf("unexpected counts: %+v", res)
	}

	serum := sampleTypes.byName("Serum")
	if serum.ID != 1 || serum.ServerID == nil || *serum.ServerID != "SER" || !serum.Orderable {
		t.Errorf("hand-made serum row not adopted: %+v", serum)
	}
	urine := sampleTypes.byName("Urine")
	if urine == nil || urine.ID != 2 || urine.Orderable {
		t.Errorf("urine not renamed by server id: %+v", urine)
	}
	blood := sampleTypes.byName("Blood")
	if blood == nil || !blood.SampleIDRequired || blood.ServerID == nil || *blood.ServerID != "B1" {
		t.Errorf("blood not created: %+v", blood)
	}
	if sampleTypes.updates != 2 {
		t.Errorf("expected 2 writes, got %d", sampleTypes.updates)
	}
}

func TestSampleTypeSync_NameBeatsServerID(t *testing.T) {
	sampleTypes := newFakeSampleTypes(
		&catalog.SampleType{ID: 1, Name: "Blood", ServerID: strPtr("10"), Orderable: true},
		&catalog.SampleType{ID: 2, Name: "Serum", ServerID: strPtr("20"), Orderable: true},
	)
	remote := &fakeRemote{sampleTypes: []lis.RemoteSampleType{
		{ID: "20", Name: "Blood", Orderable: true},
	}}

	res, err := NewSampleTypeSync(sampleTypes, remote, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Updated != 1 || res.Created != 0 {
		t.Errorf("unexpected counts: %+v", res)
	}

	blood := sampleTypes.byName("Blood")
	if blood.ID != 1 || blood.ServerID == nil || *blood.ServerID != "20" {
		t.Errorf("name match must win and take the remote id: %+v", blood)
	}
	serum := sampleTypes.byName("Serum")
	if serum.ID != 2 || *serum.ServerID != "20" {
		t.Errorf("row matched only by server id must stay untouched: %+v", serum)
	}
	if sampleTypes.updates != 1 {
		t.Errorf("expected a single write, got %d", sampleTypes.updates)
	}
}
