package parquet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fidde/songplay_lake/pkg/models"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DefaultConfig(t.TempDir()), nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s
}

func countRows(t *testing.T, path string) int64 {
	t.Helper()
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, 1)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	defer pr.ReadStop()
	return pr.GetNumRows()
}

func songs() *models.Table {
	return models.SongsTable([]models.SongDim{
		{SongID: "S1", Title: "One", ArtistID: "A1", Duration: 200, Year: 2000},
		{SongID: "S2", Title: "Two", ArtistID: "A1", Duration: 180, Year: 2000},
		{SongID: "S3", Title: "Three", ArtistID: "A/2", Duration: 90, Year: 0},
	})
}

func TestWriteAndCommit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	txn, err := s.Begin(ctx, "run-1")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := txn.WriteTable(ctx, songs(), []string{"year", "artist_id"}, models.ModeOverwrite); err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}

	// Nothing is visible before Commit.
	if _, err := os.Stat(filepath.Join(s.Root(), "songs_table.parquet")); !os.IsNotExist(err) {
		t.Fatalf("table visible before commit: %v", err)
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	dir := filepath.Join(s.Root(), "songs_table.parquet")
	if _, err := os.Stat(filepath.Join(dir, SuccessMarker)); err != nil {
		t.Errorf("missing success marker: %v", err)
	}

	m, err := ReadManifest(s.Root())
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if m.RunID != "run-1" || len(m.Tables) != 1 {
		t.Fatalf("manifest = %+v", m)
	}
	tm := m.Tables[0]
	if tm.Rows != 3 {
		t.Errorf("manifest rows = %d, want 3", tm.Rows)
	}
	if len(tm.Files) != 2 {
		t.Fatalf("files = %v, want 2 partitions", tm.Files)
	}

	var total int64
	for _, f := range tm.Files {
		total += countRows(t, filepath.Join(dir, filepath.FromSlash(f)))
	}
	if total != 3 {
		t.Errorf("rows in files = %d, want 3", total)
	}

	// Partitions are written in sorted order.
	if got := filepath.Dir(tm.Files[1]); got != "year=2000/artist_id=A1" {
		t.Fatalf("second file in %s, want year=2000/artist_id=A1", got)
	}
	if got := countRows(t, filepath.Join(dir, filepath.FromSlash(tm.Files[1]))); got != 2 {
		t.Errorf("partition year=2000/artist_id=A1 rows = %d, want 2", got)
	}

	// Escaped partition value.
	if _, err := os.Stat(filepath.Join(dir, "year=0", "artist_id=A%2F2")); err != nil {
		t.Errorf("escaped partition directory missing: %v", err)
	}

	// Staging area is cleaned up.
	if _, err := os.Stat(filepath.Join(s.Root(), stagingDir, "run-1")); !os.IsNotExist(err) {
		t.Errorf("staging directory not removed: %v", err)
	}
}

func TestOverwriteReplacesPreviousRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, run := range []string{"run-1", "run-2"} {
		txn, err := s.Begin(ctx, run)
		if err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		if err := txn.WriteTable(ctx, songs(), []string{"year", "artist_id"}, models.ModeOverwrite); err != nil {
			t.Fatalf("WriteTable failed: %v", err)
		}
		if err := txn.Commit(ctx); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	var files []string
	err := filepath.Walk(filepath.Join(s.Root(), "songs_table.parquet"), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if filepath.Ext(path) == ".parquet" && !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("found %d parquet files after rerun, want 2: %v", len(files), files)
	}

	var total int64
	for _, f := range files {
		total += countRows(t, f)
	}
	if total != 3 {
		t.Errorf("rows after rerun = %d, want 3", total)
	}
}

func TestRollbackKeepsPreviousOutput(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	txn, _ := s.Begin(ctx, "run-1")
	if err := txn.WriteTable(ctx, songs(), nil, models.ModeOverwrite); err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	txn, _ = s.Begin(ctx, "run-2")
	if err := txn.WriteTable(ctx, models.SongsTable(nil), nil, models.ModeOverwrite); err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}
	if err := txn.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if err := txn.Commit(ctx); !errors.Is(err, ErrTxnDone) {
		t.Errorf("Commit after Rollback = %v, want ErrTxnDone", err)
	}

	m, err := ReadManifest(s.Root())
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if m.RunID != "run-1" {
		t.Errorf("manifest run = %s, want run-1", m.RunID)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), stagingDir, "run-2")); !os.IsNotExist(err) {
		t.Errorf("staging directory not removed: %v", err)
	}
}

func TestWriteNullsAndTimestamps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	loc := "NYC"
	lat := 40.7
	artists := models.ArtistsTable([]models.ArtistDim{
		{ArtistID: "A1", Name: "Band", Location: &loc, Latitude: &lat},
		{ArtistID: "A2", Name: "Other"},
	})
	start := time.Date(2018, 11, 1, 21, 1, 46, 796000000, time.UTC)
	plays := models.SongplaysTable([]models.SongplayFact{
		{SongplayID: 1, StartTime: start, Year: 2018, Month: 11, UserID: "U1", Level: "free", SongID: "S1", ArtistID: "A1", SessionID: 5},
	})

	txn, _ := s.Begin(ctx, "run-1")
	if err := txn.WriteTable(ctx, artists, nil, models.ModeOverwrite); err != nil {
		t.Fatalf("WriteTable artists failed: %v", err)
	}
	if err := txn.WriteTable(ctx, plays, models.PartitionColumns[models.TableSongplays], models.ModeOverwrite); err != nil {
		t.Fatalf("WriteTable songplays failed: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	m, _ := ReadManifest(s.Root())
	if len(m.Tables) != 2 {
		t.Fatalf("manifest tables = %d, want 2", len(m.Tables))
	}
	for _, tm := range m.Tables {
		var total int64
		for _, f := range tm.Files {
			total += countRows(t, filepath.Join(s.Root(), tm.Dir, filepath.FromSlash(f)))
		}
		if total != int64(tm.Rows) {
			t.Errorf("%s: rows in files = %d, manifest says %d", tm.Name, total, tm.Rows)
		}
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "songplays_table.parquet", "year=2018", "month=11")); err != nil {
		t.Errorf("songplays partition directory missing: %v", err)
	}
}

func TestUnsupportedMode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	txn, _ := s.Begin(ctx, "run-1")
	defer txn.Rollback(ctx)

	err := txn.WriteTable(ctx, songs(), nil, models.WriteMode("append"))
	if !errors.Is(err, models.ErrUnsupportedMode) {
		t.Errorf("WriteTable(append) = %v, want ErrUnsupportedMode", err)
	}
}

func TestPartitionValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, DefaultPartition},
		{"", DefaultPartition},
		{"A1", "A1"},
		{"a=b/c", "a%3Db%2Fc"},
		{int32(2018), "2018"},
		{int64(-3), "-3"},
	}

	for _, tt := range tests {
		if got := partitionValue(tt.in); got != tt.want {
			t.Errorf("partitionValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseCompression(t *testing.T) {
	if _, err := parseCompression("lz4-ish"); err == nil {
		t.Error("expected error for unknown codec")
	}
	if _, err := New(Config{Root: t.TempDir(), Compression: "bogus"}, nil); err == nil {
		t.Error("New accepted an unknown codec")
	}
}
