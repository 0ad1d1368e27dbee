package reconcile

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/labdesk/labdesk/internal/platform/events"
	"github.com/labdesk/labdesk/internal/platform/lis"
	"github.com/labdesk/labdesk/internal/platform/metrics"
)

func scrape(t *testing.T, reg *metrics.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestRunner_PublishesAfterCommit(t *testing.T) {
	tx := &fakeTx{}
	pub := &recordingPublisher{tx: tx}
	arch := &recordingArchiver{}
	locker := &fakeLocker{}
	reg := metrics.NewRegistry()
	runner := NewRunner(tx, zerolog.Nop(), WithLocker(locker), WithPublisher(pub), WithArchiver(arch), WithMetrics(reg))

	job := &stubJob{name: JobOrders, res: Result{
		Updated:  1,
		Events:   []events.Event{{Type: events.TypeOrderStatusChanged, OrderID: 7, FromStatus: "sent", ToStatus: "reported"}},
		Payloads: []Payload{{Source: JobOrders, Body: []byte(`[]`)}},
	}}

	res, err := runner.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Updated != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if tx.commits != 1 {
		t.Errorf("expected 1 commit, got %d", tx.commits)
	}
	if len(pub.events) != 1 || pub.commitsAtSend[0] != 1 {
		t.Errorf("event must be published after commit: events=%d commits=%v", len(pub.events), pub.commitsAtSend)
	}
	if len(arch.sources) != 1 || arch.sources[0] != JobOrders {
		t.Errorf("expected payload archived, got %v", arch.sources)
	}
	if len(locker.released) != 1 || locker.released[0] != "reconcile:orders" {
		t.Errorf("expected lock released, got %v", locker.released)
	}

	body := scrape(t, reg)
	if !strings.Contains(body, `labdesk_sync_runs_total{job="orders",result="ok"} 1`) {
		t.Errorf("run not counted:\n%s", body)
	}
	if !strings.Contains(body, `labdesk_sync_records_total{action="updated",job="orders"} 1`) {
		t.Errorf("records not counted:\n%s", body)
	}
}

func TestRunner_FailureRollsBackAndDropsEvents(t *testing.T) {
	tx := &fakeTx{}
	pub := &recordingPublisher{tx: tx}
	arch := &recordingArchiver{}
	runner := NewRunner(tx, zerolog.Nop(), WithPublisher(pub), WithArchiver(arch))

	boom := errors.New("constraint violated")
	job := &stubJob{name: JobTests, err: boom, res: Result{
		Updated:  3,
		Events:   []events.Event{{OrderID: 1}},
		Payloads: []Payload{{Source: JobTests, Body: []byte(`{}`)}},
	}}

	res, err := runner.Run(context.Background(), job)
	if !errors.Is(err, boom) {
		t.Fatalf("expected job error, got %v", err)
	}
	if res.Updated != 0 {
		t.Errorf("a rolled back pass reports nothing, got %+v", res)
	}
	if tx.rollbacks != 1 || tx.commits != 0 {
		t.Errorf("expected rollback, got commits=%d rollbacks=%d", tx.commits, tx.rollbacks)
	}
	if len(pub.events) != 0 {
		t.Error("events of a rolled back pass must not be published")
	}
	if len(arch.sources) != 1 {
		t.Error("fetched payloads are archived even when the pass fails")
	}
}

func TestRunner_ServiceErrorCountsAsSkipped(t *testing.T) {
	var buf bytes.Buffer
	reg := metrics.NewRegistry()
	runner := NewRunner(&fakeTx{}, zerolog.New(&buf), WithMetrics(reg))
	job := &stubJob{name: JobReferrers, err: &lis.ServiceError{Method: "GET", Endpoint: "api/referrers", StatusCode: 502}}

	_, err := runner.Run(context.Background(), job)
	var svcErr *lis.ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected service error, got %v", err)
	}
	if body := scrape(t, reg); !strings.Contains(body, `labdesk_sync_runs_total{job="referrers",result="skipped"} 1`) {
		t.Errorf("skip not counted:\n%s", body)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), `"endpoint":"api/referrers"`) {
		t.Errorf("expected error-level log with endpoint, got %s", buf.String())
	}
}

func TestRunner_TestPassHoldsSampleTypeLock(t *testing.T) {
	job := NewTestSync(nil, nil, nil, &SampleTypeSync{}, zerolog.Nop())

	locker := &fakeLocker{held: map[string]bool{"reconcile:sample-types": true}}
	runner := NewRunner(&fakeTx{}, zerolog.Nop(), WithLocker(locker))
	if _, err := runner.Run(context.Background(), job); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked while sample types are syncing elsewhere, got %v", err)
	}
	if locker.held["reconcile:tests"] {
		t.Error("tests lock must be released when the sample-types lock is busy")
	}
	if len(locker.released) != 1 || locker.released[0] != "reconcile:tests" {
		t.Errorf("unexpected releases %v", locker.released)
	}

	runner = NewRunner(&fakeTx{}, zerolog.Nop())
	gate := runner.gate(JobSampleTypes)
	gate.Lock()
	if _, err := runner.Run(context.Background(), job); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked while a sample-type pass runs in process, got %v", err)
	}
	gate.Unlock()
	if !runner.gate(JobTests).TryLock() {
		t.Error("tests gate must be released after a busy sample-types gate")
	}
}

func TestRunner_OverlappingJobHoldsAllLocks(t *testing.T) {
	locker := &fakeLocker{}
	runner := NewRunner(&fakeTx{}, zerolog.Nop(), WithLocker(locker))

	var during map[string]bool
	job := &overlappingJob{
		stubJob: stubJob{name: JobTests, run: func(context.Context) {
			during = map[string]bool{}
			for k, v := range locker.held {
				during[k] = v
			}
		}},
		also: []string{JobSampleTypes},
	}
	if _, err := runner.Run(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !during["reconcile:tests"] || !during["reconcile:sample-types"] {
		t.Errorf("expected both locks held during the pass, got %v", during)
	}
	if len(locker.held) != 0 {
		t.Errorf("expected all locks released, still held %v", locker.held)
	}
}

func TestRunner_HeldLockSkipsPass(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{"reconcile:orders": true}}
	ran := false
	job := &stubJob{name: JobOrders, run: func(context.Context) { ran = true }}

	_, err := NewRunner(&fakeTx{}, zerolog.Nop(), WithLocker(locker)).Run(context.Background(), job)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if ran {
		t.Error("job must not run while another process holds the lock")
	}
}

func TestRunner_OverlappingPassInProcess(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	job := &stubJob{name: JobTests, run: func(context.Context) {
		close(started)
		<-release
	}}
	runner := NewRunner(&fakeTx{}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background(), job)
		done <- err
	}()
	<-started

	if _, err := runner.Run(context.Background(), &stubJob{name: JobTests}); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked for overlapping pass, got %v", err)
	}
	// A different job is not blocked.
	if _, err := runner.Run(context.Background(), &stubJob{name: JobOrders}); err != nil {
		t.Errorf("unrelated job blocked: %v", err)
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("first pass failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first pass did not finish")
	}
}

func TestRunner_NoopPass(t *testing.T) {
	reg := metrics.NewRegistry()
	res, err := NewRunner(nil, zerolog.Nop(), WithMetrics(reg)).Run(context.Background(), &stubJob{name: JobOrders, res: Result{Noop: true}})
	if err != nil || !res.Noop {
		t.Fatalf("expected noop result, got %+v %v", res, err)
	}
	if body := scrape(t, reg); !strings.Contains(body, `labdesk_sync_runs_total{job="orders",result="noop"} 1`) {
		t.Errorf("noop not counted:\n%s", body)
	}
}
