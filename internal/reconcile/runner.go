package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/labdesk/labdesk/internal/platform/archive"
	"github.com/labdesk/labdesk/internal/platform/events"
	"github.com/labdesk/labdesk/internal/platform/lis"
	"github.com/labdesk/labdesk/internal/platform/metrics"
)

// ErrLocked is returned when a pass of the same job is already running, in
// this process or in another one sharing the database.
var ErrLocked = errors.New("reconcile: a pass of this job is already running")

// Locker is a cross-process named lock; *db.AdvisoryLocker satisfies it.
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(), acquired bool, err error)
}

// TxRunner is satisfied by *db.TxManager.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type RunnerOption func(*Runner)

func WithLocker(l Locker) RunnerOption { return func(r *Runner) { r.locker = l } }

func WithPublisher(p events.Publisher) RunnerOption { return func(r *Runner) { r.publisher = p } }

func WithArchiver(a archive.Archiver) RunnerOption { return func(r *Runner) { r.archiver = a } }

func WithMetrics(m *metrics.Registry) RunnerOption { return func(r *Runner) { r.metrics = m } }

// Runner executes jobs one pass at a time: it serializes passes per job,
// wraps each pass in a transaction, archives the raw remote payloads and
// publishes the pass's events once the transaction has committed.
type Runner struct {
	tx        TxRunner
	locker    Locker
	publisher events.Publisher
	archiver  archive.Archiver
	metrics   *metrics.Registry
	logger    zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	gates map[string]*sync.Mutex
}

func NewRunner(tx TxRunner, logger zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		tx:        tx,
		publisher: events.NopPublisher{},
		archiver:  archive.NopArchiver{},
		logger:    logger,
		now:       time.Now,
		gates:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) gate(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[name]
	if !ok {
		g = &sync.Mutex{}
		r.gates[name] = g
	}
	return g
}

// Run performs one pass of job. A pass that fails rolls back every write it
// made; a pass that hits an LIS failure is logged as skipped and the next
// scheduled pass retries.
func (r *Runner) Run(ctx context.Context, job Job) (Result, error) {
	name := job.Name()
	log := r.logger.With().Str("job", name).Logger()

	release, holder, err := r.acquire(ctx, lockNames(job))
	switch {
	case errors.Is(err, errGateHeld):
		log.Info().Str("held", holder).Msg("pass already running in this process, skipping")
		r.metrics.ObserveRun(name, "locked", 0)
		return Result{}, ErrLocked
	case errors.Is(err, errLockHeld):
		log.Info().Str("held", holder).Msg("pass already running elsewhere, skipping")
		r.metrics.ObserveRun(name, "locked", 0)
		return Result{}, ErrLocked
	case err != nil:
		r.metrics.ObserveRun(name, "error", 0)
		return Result{}, err
	}
	defer release()

	start := r.now()
	var res Result
	err = r.inTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = job.Run(ctx)
		return err
	})
	elapsed := r.now().Sub(start)

	r.archive(ctx, log, res.Payloads)

	if err != nil {
		var svcErr *lis.ServiceError
		if errors.As(err, &svcErr) {
			log.Error().Err(err).
				Str("endpoint", svcErr.Endpoint).
				Int("status", svcErr.StatusCode).
				Msg("lis request failed, pass skipped")
			r.metrics.ObserveRun(name, "skipped", elapsed)
		} else {
			log.Error().Err(err).Msg("pass failed, changes rolled back")
			r.metrics.ObserveRun(name, "error", elapsed)
		}
		return Result{}, err
	}

	r.publish(ctx, log, res.Events)

	if res.Noop {
		log.Info().Dur("elapsed", elapsed).Msg("nothing to reconcile")
		r.metrics.ObserveRun(name, "noop", elapsed)
		return res, nil
	}

	r.record(name, res)
	if res.SampleTypes != nil {
		r.record(JobSampleTypes, *res.SampleTypes)
	}
	r.metrics.ObserveRun(name, "ok", elapsed)
	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("skipped", res.Skipped).
		Int("deactivated", res.Deactivated).
		Int("events", len(res.Events)).
		Dur("elapsed", elapsed).
		Msg("pass complete")
	return res, nil
}

var (
	errGateHeld = errors.New("gate held")
	errLockHeld = errors.New("lock held")
)

func lockNames(job Job) []string {
	names := []string{job.Name()}
	if o, ok := job.(Overlapper); ok {
		names = append(names, o.Overlaps()...)
	}
	return names
}

// acquire takes the in-process gate and then the cross-process lock of every
// name. On failure it releases what it took and reports the busy name.
func (r *Runner) acquire(ctx context.Context, names []string) (func(), string, error) {
	var held []func()
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}

	for _, n := range names {
		gate := r.gate(n)
		if !gate.TryLock() {
			release()
			return nil, n, errGateHeld
		}
		held = append(held, gate.Unlock)
	}
	if r.locker == nil {
		return release, "", nil
	}
	for _, n := range names {
		unlock, acquired, err := r.locker.TryLock(ctx, "reconcile:"+n)
		if err != nil {
			release()
			return nil, n, fmt.Errorf("lock %s: %w", n, err)
		}
		if !acquired {
			release()
			return nil, n, errLockHeld
		}
		held = append(held, unlock)
	}
	return release, "", nil
}

func (r *Runner) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.tx == nil {
		return fn(ctx)
	}
	return r.tx.InTx(ctx, fn)
}

func (r *Runner) record(job string, res Result) {
	for action, n := range res.counts() {
		r.metrics.AddRecords(job, action, n)
	}
}

// Archive failures never fail the pass.
func (r *Runner) archive(ctx context.Context, log zerolog.Logger, payloads []Payload) {
	for _, p := range payloads {
		if err := r.archiver.Archive(ctx, p.Source, p.Body); err != nil {
			log.Warn().Err(err).Str("source", p.Source).Msg("archive payload failed")
		}
	}
}

func (r *Runner) publish(ctx context.Context, log zerolog.Logger, evts []events.Event) {
	for _, e := range evts {
		if err := r.publisher.Publish(ctx, e); err != nil {
			log.Warn().Err(err).
				Int64("order_id", e.OrderID).
				Str("to_status", e.ToStatus).
				Msg("publish order event failed")
		}
	}
}
