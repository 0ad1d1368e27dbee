//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/labdesk/labdesk/internal/platform/db"
	"github.com/labdesk/labdesk/internal/platform/events"
	"github.com/labdesk/labdesk/internal/platform/lis"
	"github.com/labdesk/labdesk/internal/reconcile"
	"github.com/labdesk/labdesk/migrations"
)

var (
	connStr    string
	globalPool *pgxpool.Pool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	cs, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cs)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "create pool: %v\n", err)
		os.Exit(1)
	}
	connStr, globalPool = cs, pool

	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// schemaPool migrates a fresh schema and returns a pool whose connections
// resolve unqualified table names there.
func schemaPool(t *testing.T, prefix string) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	schema := prefix + "_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")

	if _, err := db.NewMigratorFS(globalPool, migrations.FS).Up(ctx, schema); err != nil {
		t.Fatalf("migrate %s: %v", schema, err)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: connStr, MaxConns: 4, SearchPath: schema})
	if err != nil {
		t.Fatalf("schema pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if _, err := globalPool.Exec(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: drop schema %s: %v", schema, err)
		}
	})
	return pool
}

// fakeLIS serves a login endpoint and one handler per "METHOD path".
type fakeLIS struct {
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
}

func (f *fakeLIS) set(route string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = h
}

func (f *fakeLIS) body(route, body string) {
	f.set(route, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

func (f *fakeLIS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/login" {
		json.NewEncoder(w).Encode(map[string]string{"token": "integration"})
		return
	}
	f.mu.Lock()
	h, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func newLIS(t *testing.T) (*fakeLIS, *lis.Client) {
	t.Helper()
	f := &fakeLIS{routes: make(map[string]http.HandlerFunc)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client, err := lis.NewClient(lis.Config{
		BaseURL: srv.URL,
		Paths: lis.Paths{
			Tests:       "api/tests",
			Referrers:   "api/referrers",
			Orders:      "api/orders/status",
			SampleTypes: "api/sample-types",
			Login:       "api/login",
		},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("lis client: %v", err)
	}
	return f, client
}

type collectingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *collectingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func newRunner(pool *pgxpool.Pool, pub events.Publisher) *reconcile.Runner {
	return reconcile.NewRunner(db.NewTxManager(pool), zerolog.Nop(),
		reconcile.WithLocker(db.NewAdvisoryLocker(pool)),
		reconcile.WithPublisher(pub),
	)
}
