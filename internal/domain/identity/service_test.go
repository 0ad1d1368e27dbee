package identity

import (
	"context"
	"testing"
	"time"
)

// -- Mock User Repository --

type mockUserRepo struct {
	users   map[int64]*User
	nextID  int64
	updates int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[int64]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrDuplicateKey
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = u.Clone()
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id int64) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (m *mockUserRepo) GetByReferrerID(_ context.Context, referrerID string) (*User, error) {
	for _, u := range m.users {
		if u.ReferrerID != nil && *u.ReferrerID == referrerID {
			return u.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockUserRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockUserRepo) Update(_ context.Context, u *User) error {
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	m.updates++
	m.users[u.ID] = u.Clone()
	return nil
}

func (m *mockUserRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *mockUserRepo) Search(_ context.Context, params map[string]string, _, _ int) ([]*User, int, error) {
	var result []*User
	for _, u := range m.users {
		if role, ok := params["role"]; ok && u.Role != role {
			continue
		}
		result = append(result, u.Clone())
	}
	return result, len(result), nil
}

func newTestService() (*Service, *mockUserRepo) {
	repo := newMockUserRepo()
	return NewService(repo), repo
}

func TestService_CreateUser(t *testing.T) {
	svc, repo := newTestService()
	u := &User{Name: "Lab Lead", Username: "lead", Role: "lab_manager"}
	if err := svc.CreateUser(context.Background(), u, "correct-horse"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := repo.users[u.ID]
	if !stored.Active {
		t.Error("expected new user to be active")
	}
	if !CheckPassword(stored.Password, "correct-horse") {
		t.Error("expected stored password to be a bcrypt hash of the input")
	}
}

func TestService_CreateUser_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	cases := []struct {
		name string
		user *User
		pass string
	}{
		{"missing name", &User{Username: "x"}, "long-enough"},
		{"missing username", &User{Name: "X"}, "long-enough"},
		{"bad role", &User{Name: "X", Username: "x", Role: "physician"}, "long-enough"},
		{"short password", &User{Name: "X", Username: "x"}, "short"},
	}
	for _, tc := range cases {
		if err := svc.CreateUser(ctx, tc.user, tc.pass); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestService_UpdateUser_KeepsPassword(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	u := &User{Name: "Old", Username: "old"}
	svc.CreateUser(ctx, u, "first-password")
	hash := repo.users[u.ID].Password

	update := &User{ID: u.ID, Name: "New", Username: "old", Role: "receptionist", Active: true}
	if err := svc.UpdateUser(ctx, update); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.users[u.ID].Name != "New" || repo.users[u.ID].Password != hash {
		t.Errorf("expected name change and unchanged hash, got %+v", repo.users[u.ID])
	}
}

func TestService_MergeMetadata_SkipsNoop(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	u := &User{Name: "R", Username: "r", Metadata: map[string]any{MetaBilling: map[string]any{"iban": "DE00"}}}
	svc.CreateUser(ctx, u, "password-1")

	if _, err := svc.MergeMetadata(ctx, u.ID, map[string]map[string]any{MetaBilling: {"iban": "DE00"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.updates != 0 {
		t.Errorf("expected no write for identical metadata, got %d", repo.updates)
	}

	got, err := svc.MergeMetadata(ctx, u.ID, map[string]map[string]any{MetaContact: {"city": "Bonn"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.updates != 1 {
		t.Errorf("expected one write, got %d", repo.updates)
	}
	if got.Metadata[MetaBilling].(map[string]any)["iban"] != "DE00" {
		t.Error("expected billing to survive a contact merge")
	}
}

func TestService_Deactivate(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	u := &User{Name: "R", Username: "r"}
	svc.CreateUser(ctx, u, "password-1")

	if _, err := svc.Deactivate(ctx, u.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.users[u.ID].Active {
		t.Error("expected user to be inactive")
	}
	if _, err := svc.Deactivate(ctx, 404); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
