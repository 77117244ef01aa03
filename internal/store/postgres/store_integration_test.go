package postgres

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ca3de/CRET-Scan/internal/models"
	"github.com/Ca3de/CRET-Scan/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestConcurrentStartKeepsOneOpenSession(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	associate := seedAssociate(t, ctx, st, "10001", "dreyes", "Dana Reyes")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.CreateSession(ctx, store.CreateSessionInput{
				AssociateID: associate.ID,
				CreatedBy:   "op-1",
				StartTime:   time.Now().UTC(),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, conflicted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrActiveSessionExists):
			conflicted++
		default:
			t.Fatalf("create session: %v", err)
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("expected 1 success and 1 conflict, got %d and %d", succeeded, conflicted)
	}

	var openCount int
	row := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM cret_sessions WHERE associate_id = $1 AND end_time IS NULL
	`, associate.ID)
	if err := row.Scan(&openCount); err != nil {
		t.Fatalf("count open sessions: %v", err)
	}
	if openCount != 1 {
		t.Fatalf("expected 1 open session, got %d", openCount)
	}
}

func TestCloseSessionComputesHours(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	associate := seedAssociate(t, ctx, st, "10002", "jkim", "Jordan Kim")
	start := time.Now().UTC().Add(-3 * time.Hour)
	session, err := st.CreateSession(ctx, store.CreateSessionInput{
		AssociateID: associate.ID,
		CreatedBy:   "op-1",
		StartTime:   start,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	closed, err := st.CloseSession(ctx, session.ID, start.Add(150*time.Minute))
	if err != nil {
		t.Fatalf("close session: %v", err)
	}
	if closed.HoursUsed == nil || math.Abs(*closed.HoursUsed-2.5) > 0.001 {
		t.Fatalf("expected 2.5 hours, got %+v", closed.HoursUsed)
	}

	if _, err := st.CloseSession(ctx, session.ID, time.Now().UTC()); !errors.Is(err, store.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession on double close, got %v", err)
	}
}

func TestCloseSessionRejectsEndBeforeStart(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	associate := seedAssociate(t, ctx, st, "10003", "mlopez", "Mia Lopez")
	start := time.Now().UTC()
	session, err := st.CreateSession(ctx, store.CreateSessionInput{
		AssociateID: associate.ID,
		CreatedBy:   "op-1",
		StartTime:   start,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, err := st.CloseSession(ctx, session.ID, start.Add(-time.Hour)); !errors.Is(err, store.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestSetOverrideOnlyWhileOpen(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	associate := seedAssociate(t, ctx, st, "10004", "bpatel", "Bea Patel")
	start := time.Now().UTC().Add(-time.Hour)
	session, err := st.CreateSession(ctx, store.CreateSessionInput{
		AssociateID: associate.ID,
		CreatedBy:   "op-1",
		StartTime:   start,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	updated, err := st.SetOverride(ctx, session.ID, "coverage gap")
	if err != nil {
		t.Fatalf("set override: %v", err)
	}
	if !updated.OverrideWarning || updated.OverrideReason == nil || *updated.OverrideReason != "coverage gap" {
		t.Fatalf("override not recorded: %+v", updated)
	}

	if _, err := st.CloseSession(ctx, session.ID, time.Now().UTC()); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if _, err := st.SetOverride(ctx, session.ID, "too late"); !errors.Is(err, store.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession after close, got %v", err)
	}
}

func TestUsageWindows(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	associate := seedAssociate(t, ctx, st, "10005", "tcho", "Tae Cho")
	now := time.Now().UTC()

	for _, offset := range []time.Duration{-2 * time.Hour, -26 * time.Hour} {
		start := now.Add(offset)
		session, err := st.CreateSession(ctx, store.CreateSessionInput{
			AssociateID: associate.ID,
			CreatedBy:   "op-1",
			StartTime:   start,
		})
		if err != nil {
			t.Fatalf("create session: %v", err)
		}
		if _, err := st.CloseSession(ctx, session.ID, start.Add(time.Hour)); err != nil {
			t.Fatalf("close session: %v", err)
		}
	}

	total, err := st.SumHoursInWindow(ctx, associate.ID, now.Add(-7*24*time.Hour), now)
	if err != nil {
		t.Fatalf("sum hours: %v", err)
	}
	if math.Abs(total-2.0) > 0.001 {
		t.Fatalf("expected 2.0 hours in window, got %f", total)
	}

	usage, err := st.CountClosedSessionsSince(ctx, associate.ID, now.Add(-3*time.Hour))
	if err != nil {
		t.Fatalf("count closed: %v", err)
	}
	if usage.Count != 1 || math.Abs(usage.TotalHours-1.0) > 0.001 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
}

func TestFindAssociateAmbiguousIdentifier(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	// One associate's login collides with another's badge id.
	seedAssociate(t, ctx, st, "20001", "alpha", "Ada First")
	seedAssociate(t, ctx, st, "alpha", "bsecond", "Bo Second")

	if _, _, err := st.FindAssociate(ctx, "alpha"); !errors.Is(err, store.ErrAmbiguousIdentifier) {
		t.Fatalf("expected ErrAmbiguousIdentifier, got %v", err)
	}

	associate, found, err := st.FindAssociate(ctx, "20001")
	if err != nil || !found {
		t.Fatalf("unambiguous lookup failed: found=%v err=%v", found, err)
	}
	if associate.Name != "Ada First" {
		t.Fatalf("unexpected associate: %+v", associate)
	}
}

func TestBulkUpsertUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	seedAssociate(t, ctx, st, "10006", "10006", "")

	count, err := st.BulkUpsertAssociates(ctx, []store.AssociateUpsert{
		{BadgeID: "10006", Login: "rnakai", Name: "Rei Nakai"},
		{BadgeID: "10007", Login: "10007", Name: "Sam Okafor"},
	})
	if err != nil {
		t.Fatalf("bulk upsert: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows upserted, got %d", count)
	}

	associate, found, err := st.FindAssociate(ctx, "rnakai")
	if err != nil || !found {
		t.Fatalf("find updated associate: found=%v err=%v", found, err)
	}
	if associate.BadgeID != "10006" || associate.Name != "Rei Nakai" {
		t.Fatalf("unexpected associate after upsert: %+v", associate)
	}
}

func seedAssociate(t *testing.T, ctx context.Context, st *Store, badgeID, login, name string) models.Associate {
	t.Helper()
	associate, err := st.CreateAssociate(ctx, store.CreateAssociateInput{
		BadgeID: badgeID,
		Login:   login,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("create associate: %v", err)
	}
	return associate
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return NewStore(pool), pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
