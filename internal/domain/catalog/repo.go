package catalog

import (
	"context"
)

type TestRepository interface {
	Create(ctx context.Context, t *Test) error
	GetByID(ctx context.Context, id int64) (*Test, error)
	GetByServerID(ctx context.Context, serverID string) (*Test, error)
	Update(ctx context.Context, t *Test) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Test, int, error)
	// DeactivateExcept clears is_active on every active test not in keepIDs
	// and returns how many rows changed.
	DeactivateExcept(ctx context.Context, keepIDs []int64) (int, error)
	// Pivot rows
	SyncSampleTypes(ctx context.Context, testID int64, rows []TestSampleType) error
	ListSampleTypes(ctx context.Context, testID int64) ([]TestSampleType, error)
}

type SampleTypeRepository interface {
	Create(ctx context.Context, s *SampleType) error
	GetByID(ctx context.Context, id int64) (*SampleType, error)
	GetByServerID(ctx context.Context, serverID string) (*SampleType, error)
	// FindByNameOrServerID prefers a row matching name over one matching serverID.
	FindByNameOrServerID(ctx context.Context, name, serverID string) (*SampleType, error)
	Update(ctx context.Context, s *SampleType) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*SampleType, int, error)
}
