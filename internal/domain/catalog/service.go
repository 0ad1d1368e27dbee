package catalog

import (
	"context"
	"fmt"
)

type Service struct {
	tests       TestRepository
	sampleTypes SampleTypeRepository
}

func NewService(tests TestRepository, sampleTypes SampleTypeRepository) *Service {
	return &Service{tests: tests, sampleTypes: sampleTypes}
}

// -- Test --

// GetTest returns the test with its sample type associations loaded.
func (s *Service) GetTest(ctx context.Context, id int64) (*Test, error) {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	assoc, err := s.tests.ListSampleTypes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load sample types of test %d: %w", id, err)
	}
	t.SampleTypes = assoc
	return t, nil
}

func (s *Service) ListTests(ctx context.Context, params map[string]string, limit, offset int) ([]*Test, int, error) {
	return s.tests.Search(ctx, params, limit, offset)
}

// SetTestActive toggles a test locally. The next test sync overwrites it
// with the remote status.
func (s *Service) SetTestActive(ctx context.Context, id int64, active bool) (*Test, error) {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsActive == active {
		return t, nil
	}
	t.IsActive = active
	if err := s.tests.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("update test %d: %w", id, err)
	}
	return t, nil
}

// -- SampleType --

func (s *Service) GetSampleType(ctx context.Context, id int64) (*SampleType, error) {
	return s.sampleTypes.GetByID(ctx, id)
}

func (s *Service) ListSampleTypes(ctx context.Context, params map[string]string, limit, offset int) ([]*SampleType, int, error) {
	return s.sampleTypes.Search(ctx, params, limit, offset)
}

func (s *Service) UpdateSampleType(ctx context.Context, st *SampleType) error {
	if st.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := s.sampleTypes.GetByID(ctx, st.ID); err != nil {
		return err
	}
	return s.sampleTypes.Update(ctx, st)
}
