package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sightserver/querycache/store"
	"github.com/sightserver/querycache/store/storetest"
)

func openSQLite(t *testing.T, path string, p store.Policy, clock *storetest.Clock) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Driver: DriverSQLite,
		DSN:    path,
		Policy: p,
		Now:    clock.Now,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, p store.Policy, clock *storetest.Clock) store.Store {
		return openSQLite(t, filepath.Join(t.TempDir(), "cache.db"), p, clock)
	})
}

func TestPostgres_Contract(t *testing.T) {
	dsn := os.Getenv("QUERYCACHE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QUERYCACHE_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T, p store.Policy, clock *storetest.Clock) store.Store {
		s, err := Open(context.Background(), Options{Driver: DriverPostgres, DSN: dsn, Policy: p, Now: clock.Now})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if _, err := s.Clear(context.Background()); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "mysql", DSN: "x"}); err == nil {
		t.Error("Open with unsupported driver should fail")
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	clock := storetest.NewClock()

	s := openSQLite(t, path, store.DefaultPolicy(), clock)
	if err := s.Set(ctx, storetest.NewEntry("k", "成都大熊猫基地", 1)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.Get(ctx, "k")
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := openSQLite(t, path, store.DefaultPolicy(), clock)
	report, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if report.Entries != 1 || report.Repaired() {
		t.Errorf("report = %+v, want 1 clean entry", report)
	}
	got, ok := reopened.Get(ctx, "k")
	if !ok {
		t.Fatal("entry should survive reopen")
	}
	if got.HitCount != 2 {
		t.Errorf("HitCount = %d, want 2", got.HitCount)
	}
}

func TestSQLite_LoadRemovesCorruptRows(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, filepath.Join(t.TempDir(), "cache.db"), store.DefaultPolicy(), storetest.NewClock())

	if err := s.Set(ctx, storetest.NewEntry("good", "q", 1)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx,
		`INSERT INTO query_cache (`+entryColumns+`) VALUES ('bad', 'q', '{}', '{broken', 1, 1, 0, 7)`); err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	report, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(report.CorruptEntries) != 1 || report.CorruptEntries[0] != "bad" {
		t.Errorf("CorruptEntries = %v, want [bad]", report.CorruptEntries)
	}
	if report.Entries != 1 {
		t.Errorf("Entries = %d, want 1", report.Entries)
	}
}
