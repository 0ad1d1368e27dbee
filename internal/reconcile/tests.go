package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/labdesk/labdesk/internal/domain/catalog"
	"github.com/labdesk/labdesk/internal/platform/lis"
)

type TestStore interface {
	GetByServerID(ctx context.Context, serverID string) (*catalog.Test, error)
	Create(ctx context.Context, t *catalog.Test) error
	Update(ctx context.Context, t *catalog.Test) error
	DeactivateExcept(ctx context.Context, keepIDs []int64) (int, error)
	ListSampleTypes(ctx context.Context, testID int64) ([]catalog.TestSampleType, error)
	SyncSampleTypes(ctx context.Context, testID int64, rows []catalog.TestSampleType) error
}

type TestSource interface {
	Tests(ctx context.Context) ([]lis.RemoteTest, *lis.Response, error)
}

// TestSync mirrors the LIS test catalog. Tests the LIS no longer lists are
// deactivated; new ones arrive inactive until a lab manager enables them.
type TestSync struct {
	tests       TestStore
	sampleTypes SampleTypeStore
	remote      TestSource
	before      *SampleTypeSync
	logger      zerolog.Logger
}

// NewTestSync builds the test pass. When sampleTypeSync is non-nil it runs
// first in the same transaction, so nested sample types resolve against a
// fresh table.
func NewTestSync(tests TestStore, sampleTypes SampleTypeStore, remote TestSource, sampleTypeSync *SampleTypeSync, logger zerolog.Logger) *TestSync {
	return &TestSync{tests: tests, sampleTypes: sampleTypes, remote: remote, before: sampleTypeSync, logger: logger}
}

func (j *TestSync) Name() string { return JobTests }

// Overlaps reports the sample-type job when its pass runs ahead of this one.
func (j *TestSync) Overlaps() []string {
	if j.before == nil {
		return nil
	}
	return []string{JobSampleTypes}
}

func (j *TestSync) Run(ctx context.Context) (Result, error) {
	var res Result

	if j.before != nil {
		sub, err := j.before.Run(ctx)
		res.Payloads = append(res.Payloads, sub.Payloads...)
		if err != nil {
			return res, err
		}
		sub.Payloads = nil
		res.SampleTypes = &sub
	}

	records, resp, err := j.remote.Tests(ctx)
	res.keep(JobTests, resp)
	if err != nil {
		return res, err
	}

	touched := []int64{}
	for _, rec := range records {
		serverID := rec.ID.String()
		if serverID == "" {
			j.logger.Debug().Str("code", rec.Code).Msg("test without id, skipping")
			res.Skipped++
			continue
		}

		t, err := j.tests.GetByServerID(ctx, serverID)
		created := false
		switch {
		case err == nil:
		case errors.Is(err, catalog.ErrNotFound):
			t = &catalog.Test{ServerID: serverID}
			created = true
		default:
			return res, fmt.Errorf("load test %s: %w", serverID, err)
		}

		before := *t
		t.Name = rec.FullName
		t.Code = rec.Code
		t.ShortName = rec.Name
		t.Description = rec.Description
		t.TurnaroundTime = lis.TurnaroundHours(rec.MaxTurnaround)

		dirty := false
		if created {
			t.IsActive = false
			if err := j.tests.Create(ctx, t); err != nil {
				return res, fmt.Errorf("create test %s: %w", serverID, err)
			}
		} else {
			t.IsActive = bool(rec.Status)
			if !t.SameAs(&before) {
				if err := j.tests.Update(ctx, t); err != nil {
					return res, fmt.Errorf("update test %s: %w", serverID, err)
				}
				dirty = true
			}
		}
		touched = append(touched, t.ID)

		linked, err := j.syncAssociations(ctx, t, rec.SampleTypes)
		if err != nil {
			return res, err
		}

		switch {
		case created:
			res.Created++
		case dirty || linked:
			res.Updated++
		default:
			res.Unchanged++
		}
	}

	n, err := j.tests.DeactivateExcept(ctx, touched)
	if err != nil {
		return res, fmt.Errorf("deactivate missing tests: %w", err)
	}
	res.Deactivated = n
	return res, nil
}

// syncAssociations replaces the pivot rows of t with the remote sample types,
// keeping the row id of every association that survives.
func (j *TestSync) syncAssociations(ctx context.Context, t *catalog.Test, remote []lis.RemoteTestSampleType) (bool, error) {
	desired := make([]catalog.TestSampleType, 0, len(remote))
	index := make(map[int64]int, len(remote))
	for _, rst := range remote {
		if rst.ID.String() == "" {
			j.logger.Debug().Str("test", t.ServerID).Str("sample_type", rst.Name).Msg("nested sample type without id, skipping")
			continue
		}
		st, err := j.nestedSampleType(ctx, rst)
		if err != nil {
			return false, err
		}
		row := catalog.TestSampleType{
			TestID:       t.ID,
			SampleTypeID: st.ID,
			Description:  rst.Pivot.Description,
			IsDefault:    bool(rst.Pivot.DefaultType),
		}
		// Last listing of a sample type wins.
		if i, ok := index[st.ID]; ok {
			desired[i] = row
			continue
		}
		index[st.ID] = len(desired)
		desired = append(desired, row)
	}

	existing, err := j.tests.ListSampleTypes(ctx, t.ID)
	if err != nil {
		return false, fmt.Errorf("list sample types of test %d: %w", t.ID, err)
	}
	rows, changed := catalog.AssignAssociationIDs(existing, desired)
	if !changed {
		return false, nil
	}
	if err := j.tests.SyncSampleTypes(ctx, t.ID, rows); err != nil {
		return false, fmt.Errorf("sync sample types of test %d: %w", t.ID, err)
	}
	return true, nil
}

func (j *TestSync) nestedSampleType(ctx context.Context, rst lis.RemoteTestSampleType) (*catalog.SampleType, error) {
	st, err := j.sampleTypes.GetByServerID(ctx, rst.ID.String())
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("load sample type %s: %w", rst.ID, err)
	}
	st = &catalog.SampleType{Name: rst.Name, ServerID: rst.ID.Ptr(), Orderable: true}
	if err := j.sampleTypes.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("create sample type %s: %w", rst.ID, err)
	}
	return st, nil
}
