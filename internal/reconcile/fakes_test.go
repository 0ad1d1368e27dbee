package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/labdesk/labdesk/internal/domain/catalog"
	"github.com/labdesk/labdesk/internal/domain/identity"
	"github.com/labdesk/labdesk/internal/domain/order"
	"github.com/labdesk/labdesk/internal/platform/events"
	"github.com/labdesk/labdesk/internal/platform/lis"
)

// --- orders ---

type fakeOrders struct {
	orders  map[int64]*order.Order
	updates int
}

func newFakeOrders(os ...*order.Order) *fakeOrders {
	f := &fakeOrders{orders: make(map[int64]*order.Order)}
	for _, o := range os {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) ListByStatuses(_ context.Context, statuses []order.Status) ([]*order.Order, error) {
	want := make(map[order.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*order.Order
	for _, o := range f.orders {
		if want[o.Status] {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeOrders) GetByID(_ context.Context, id int64) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

func (f *fakeOrders) Update(_ context.Context, o *order.Order) error {
	f.updates++
	f.orders[o.ID] = o.Clone()
	return nil
}

// --- users ---

type fakeUsers struct {
	users   map[int64]*identity.User
	nextID  int64
	updates int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[int64]*identity.User), nextID: 1}
}

func (f *fakeUsers) GetByReferrerID(_ context.Context, referrerID string) (*identity.User, error) {
	for _, u := range f.users {
		if u.ReferrerID != nil && *u.ReferrerID == referrerID {
			return u.Clone(), nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeUsers) Create(_ context.Context, u *identity.User) error {
	u.ID = f.nextID
	f.nextID++
	f.users[u.ID] = u.Clone()
	return nil
}

func (f *fakeUsers) Update(_ context.Context, u *identity.User) error {
	f.updates++
	f.users[u.ID] = u.Clone()
	return nil
}

// --- sample types ---

type fakeSampleTypes struct {
	rows    []*catalog.SampleType
	nextID  int64
	updates int
}

func newFakeSampleTypes(rows ...*catalog.SampleType) *fakeSampleTypes {
	f := &fakeSampleTypes{nextID: 1}
	for _, r := range rows {
		f.rows = append(f.rows, r)
		if r.ID >= f.nextID {
			f.nextID = r.ID + 1
		}
	}
	return f
}

func (f *fakeSampleTypes) GetByServerID(_ context.Context, serverID string) (*catalog.SampleType, error) {
	for _, r := range f.rows {
		if r.ServerID != nil && *r.ServerID == serverID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeSampleTypes) FindByNameOrServerID(_ context.Context, name, serverID string) (*catalog.SampleType, error) {
	var byServer *catalog.SampleType
	for _, r := range f.rows {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
		if byServer == nil && r.ServerID != nil && *r.ServerID == serverID {
			byServer = r
		}
	}
	if byServer != nil {
		cp := *byServer
		return &cp, nil
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeSampleTypes) Create(_ context.Context, s *catalog.SampleType) error {
	s.ID = f.nextID
	f.nextID++
	cp := *s
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeSampleTypes) Update(_ context.Context, s *catalog.SampleType) error {
	f.updates++
	for i, r := range f.rows {
		if r.ID == s.ID {
			cp := *s
			f.rows[i] = &cp
			return nil
		}
	}
	return catalog.ErrNotFound
}

func (f *fakeSampleTypes) byName(name string) *catalog.SampleType {
	for _, r := range f.rows {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// --- tests ---

type fakeTests struct {
	tests   map[int64]*catalog.Test
	pivot   map[int64][]catalog.TestSampleType
	nextID  int64
	updates int
	syncs   int
}

func newFakeTests(ts ...*catalog.Test) *fakeTests {
	f := &fakeTests{tests: make(map[int64]*catalog.Test), pivot: make(map[int64][]catalog.TestSampleType), nextID: 1}
	for _, t := range ts {
		f.tests[t.ID] = t
		if t.ID >= f.nextID {
			f.nextID = t.ID + 1
		}
	}
	return f
}

func (f *fakeTests) GetByServerID(_ context.Context, serverID string) (*catalog.Test, error) {
	for _, t := range f.tests {
		if t.ServerID == serverID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeTests) Create(_ context.Context, t *catalog.Test) error {
	t.ID = f.nextID
	f.nextID++
	cp := *t
	f.tests[t.ID] = &cp
	return nil
}

func (f *fakeTests) Update(_ context.Context, t *catalog.Test) error {
	f.updates++
	cp := *t
	f.tests[t.ID] = &cp
	return nil
}

func (f *fakeTests) DeactivateExcept(_ context.Context, keep []int64) (int, error) {
	keepSet := make(map[int64]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	n := 0
	for id, t := range f.tests {
		if t.IsActive && !keepSet[id] {
			t.IsActive = false
			n++
		}
	}
	return n, nil
}

func (f *fakeTests) ListSampleTypes(_ context.Context, testID int64) ([]catalog.TestSampleType, error) {
	return append([]catalog.TestSampleType(nil), f.pivot[testID]...), nil
}

func (f *fakeTests) SyncSampleTypes(_ context.Context, testID int64, rows []catalog.TestSampleType) error {
	f.syncs++
	f.pivot[testID] = append([]catalog.TestSampleType(nil), rows...)
	return nil
}

// --- remote ---

type fakeRemote struct {
	tests       []lis.RemoteTest
	sampleTypes []lis.RemoteSampleType
	referrers   []lis.RemoteReferrer
	statuses    []lis.RemoteOrderStatus
	err         error

	calls    int
	lastKeys []string
}

func (f *fakeRemote) Tests(context.Context) ([]lis.RemoteTest, *lis.Response, error) {
	f.calls++
	return f.tests, nil, f.err
}

func (f *fakeRemote) SampleTypes(context.Context) ([]lis.RemoteSampleType, *lis.Response, error) {
	f.calls++
	return f.sampleTypes, nil, f.err
}

func (f *fakeRemote) Referrers(context.Context) ([]lis.RemoteReferrer, *lis.Response, error) {
	f.calls++
	return f.referrers, nil, f.err
}

func (f *fakeRemote) OrderStatuses(_ context.Context, keys []string) ([]lis.RemoteOrderStatus, *lis.Response, error) {
	f.calls++
	f.lastKeys = keys
	return f.statuses, nil, f.err
}

// --- runner collaborators ---

type fakeTx struct {
	commits   int
	rollbacks int
}

func (f *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		f.rollbacks++
		return err
	}
	f.commits++
	return nil
}

type fakeLocker struct {
	held     map[string]bool
	released []string
}

func (f *fakeLocker) TryLock(_ context.Context, name string) (func(), bool, error) {
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[name] {
		return nil, false, nil
	}
	f.held[name] = true
	return func() {
		delete(f.held, name)
		f.released = append(f.released, name)
	}, true, nil
}

// recordingPublisher remembers events and how many commits had happened when
// each was published.
type recordingPublisher struct {
	mu            sync.Mutex
	tx            *fakeTx
	events        []events.Event
	commitsAtSend []int
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	if p.tx != nil {
		p.commitsAtSend = append(p.commitsAtSend, p.tx.commits)
	}
	return nil
}

type recordingArchiver struct {
	sources []string
}

func (a *recordingArchiver) Archive(_ context.Context, job string, _ []byte) error {
	a.sources = append(a.sources, job)
	return nil
}

// stubJob returns a canned result.
type stubJob struct {
	name string
	res  Result
	err  error
	run  func(ctx context.Context)
}

func (s *stubJob) Name() string { return s.name }

func (s *stubJob) Run(ctx context.Context) (Result, error) {
	if s.run != nil {
		s.run(ctx)
	}
	return s.res, s.err
}

type overlappingJob struct {
	stubJob
	also []string
}

func (o *overlappingJob) Overlaps() []string { return o.also }

func strPtr(s string) *string { return &s }
