package patient

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/labdesk/labdesk/internal/platform/fieldcrypt"
)

// -- Mock Patient Repository --

type mockPatientRepo struct {
	patients map[int64]*Patient
	nextID   int64
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[int64]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id int64) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(m.patients, id)
	return nil
}

func (m *mockPatientRepo) Search(_ context.Context, params map[string]string, _, _ int) ([]*Patient, int, error) {
	var result []*Patient
	for _, p := range m.patients {
		if g, ok := params["gender"]; ok && p.Gender != g {
			continue
		}
		result = append(result, p)
	}
	return result, len(result), nil
}

func newTestService() (*Service, *mockPatientRepo) {
	repo := newMockPatientRepo()
	return NewService(repo), repo
}

func TestService_CreatePatient(t *testing.T) {
	svc, repo := newTestService()
	p := &Patient{FirstName: " Grace ", LastName: "Hopper", Gender: "Female"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := repo.patients[p.ID]
	if stored.FirstName != "Grace" || stored.Gender != GenderFemale {
		t.Errorf("expected normalized patient, got %+v", stored)
	}
}

func TestService_CreatePatient_Invalid(t *testing.T) {
	svc, repo := newTestService()
	if err := svc.CreatePatient(context.Background(), &Patient{FirstName: "X", LastName: "Y", Gender: "robot"}); err == nil {
		t.Error("expected error for invalid gender")
	}
	if len(repo.patients) != 0 {
		t.Error("invalid patient must not be stored")
	}
}

func TestService_UpdatePatient_NotFound(t *testing.T) {
	svc, _ := newTestService()
	err := svc.UpdatePatient(context.Background(), &Patient{ID: 3, FirstName: "X", LastName: "Y"})
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRepo_SealedNationalID(t *testing.T) {
	key := make([]byte, 32)
	rand.Read(key)
	enc, err := fieldcrypt.NewAESGCM(key)
	if err != nil {
		t.Fatalf("create encryptor: %v", err)
	}
	r := &patientRepoPG{encryptor: enc}

	nid := "AB123456"
	p := &Patient{NationalID: &nid}
	sealed, err := r.sealedNationalID(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *sealed == nid {
		t.Fatal("expected stored value to be encrypted")
	}
	if *p.NationalID != nid {
		t.Error("caller's value must not be modified")
	}
	plain, _ := enc.Decrypt(*sealed)
	if plain != nid {
		t.Errorf("expected %q after decrypt, got %q", nid, plain)
	}

	if got, _ := (&patientRepoPG{}).sealedNationalID(p); *got != nid {
		t.Error("without an encryptor the value is stored in clear")
	}
	if got, _ := r.sealedNationalID(&Patient{}); got != nil {
		t.Error("nil national id must stay nil")
	}
}
