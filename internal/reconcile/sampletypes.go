package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/labdesk/labdesk/internal/domain/catalog"
	"github.com/labdesk/labdesk/internal/platform/lis"
)

type SampleTypeStore interface {
	GetByServerID(ctx context.Context, serverID string) (*catalog.SampleType, error)
	FindByNameOrServerID(ctx context.Context, name, serverID string) (*catalog.SampleType, error)
	Create(ctx context.Context, s *catalog.SampleType) error
	Update(ctx context.Context, s *catalog.SampleType) error
}

type SampleTypeSource interface {
	SampleTypes(ctx context.Context) ([]lis.RemoteSampleType, *lis.Response, error)
}

// SampleTypeSync matches remote sample types to local ones by name or
// server id. A local row created by hand under the same name is adopted.
type SampleTypeSync struct {
	sampleTypes SampleTypeStore
	remote      SampleTypeSource
	logger      zerolog.Logger
}

func NewSampleTypeSync(sampleTypes SampleTypeStore, remote SampleTypeSource, logger zerolog.Logger) *SampleTypeSync {
	return &SampleTypeSync{sampleTypes: sampleTypes, remote: remote, logger: logger}
}

func (j *SampleTypeSync) Name() string { return JobSampleTypes }

func (j *SampleTypeSync) Run(ctx context.Context) (Result, error) {
	var res Result

	records, resp, err := j.remote.SampleTypes(ctx)
	res.keep(JobSampleTypes, resp)
	if err != nil {
		return res, err
	}

	for _, rec := range records {
		if rec.Name == "" {
			j.logger.Debug().Str("server_id", rec.ID.String()).Msg("sample type without name, skipping")
			res.Skipped++
			continue
		}

		st, err := j.sampleTypes.FindByNameOrServerID(ctx, rec.Name, rec.ID.String())
		switch {
		case err == nil:
			before := *st
			st.ServerID = rec.ID.Ptr()
			st.Name = rec.Name
			st.Orderable = bool(rec.Orderable)
			if st.SameAs(&before) {
				res.Unchanged++
				continue
			}
			if err := j.sampleTypes.Update(ctx, st); err != nil {
				return res, fmt.Errorf("update sample type %q: %w", rec.Name, err)
			}
			res.Updated++

		case errors.Is(err, catalog.ErrNotFound):
			st := &catalog.SampleType{
				Name:             rec.Name,
				ServerID:         rec.ID.Ptr(),
				Orderable:        bool(rec.Orderable),
				SampleIDRequired: bool(rec.RequiredBarcode),
			}
			if err := j.sampleTypes.Create(ctx, st); err != nil {
				return res, fmt.Errorf("create sample type %q: %w", rec.Name, err)
			}
			res.Created++

		default:
			return res, fmt.Errorf("find sample type %q: %w", rec.Name, err)
		}
	}
	return res, nil
}
