package documents

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	docs DocumentRepository
}

func NewService(docs DocumentRepository) *Service {
	return &Service{docs: docs}
}

func (s *Service) CreateDocument(ctx context.Context, d *Document) error {
	if err := d.Validate(); err != nil {
		return err
	}
	d.Active = true
	return s.docs.Create(ctx, d)
}

func (s *Service) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.docs.GetByID(ctx, id)
}

func (s *Service) UpdateDocument(ctx context.Context, d *Document) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return s.docs.Update(ctx, d)
}

func (s *Service) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	return s.docs.Delete(ctx, id)
}

// ListDocuments filters by kind, test_id, order_id, patient_id and active.
func (s *Service) ListDocuments(ctx context.Context, params map[string]string, limit, offset int) ([]*Document, int, error) {
	if k, ok := params["kind"]; ok && !Kind(k).Valid() {
		return nil, 0, fmt.Errorf("unknown document kind %q", k)
	}
	return s.docs.Search(ctx, params, limit, offset)
}

// ConsentsForTest returns the active consent forms a patient must sign before
// the test is drawn.
func (s *Service) ConsentsForTest(ctx context.Context, testID int64) ([]*Document, error) {
	params := map[string]string{
		"kind":    string(KindConsent),
		"test_id": fmt.Sprint(testID),
		"active":  "true",
	}
	docs, _, err := s.docs.Search(ctx, params, 100, 0)
	return docs, err
}
