package s3

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/fidde/songplay_lake/internal/storage/parquet"
	"github.com/fidde/songplay_lake/pkg/models"
	"gopkg.in/yaml.v3"
)

// fakeBucket is an in-memory bucket serving both the S3 client and the
// uploader interfaces.
type fakeBucket struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
	failOn  string // uploads of keys containing this substring fail
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (b *fakeBucket) Upload(in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return b.UploadWithContext(context.Background(), in, opts...)
}

func (b *fakeBucket) UploadWithContext(ctx aws.Context, in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	key := aws.StringValue(in.Key)
	if b.failOn != "" && strings.Contains(key, b.failOn) {
		return nil, errors.New("injected upload failure")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return &s3manager.UploadOutput{}, nil
}

func (b *fakeBucket) ListObjectsV2PagesWithContext(ctx aws.Context, in *awss3.ListObjectsV2Input, fn func(*awss3.ListObjectsV2Output, bool) bool, opts ...request.Option) error {
	b.mu.Lock()
	var contents []*awss3.Object
	for k := range b.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			contents = append(contents, &awss3.Object{Key: aws.String(k)})
		}
	}
	b.mu.Unlock()
	fn(&awss3.ListObjectsV2Output{Contents: contents}, true)
	return nil
}

func (b *fakeBucket) DeleteObjectsWithContext(ctx aws.Context, in *awss3.DeleteObjectsInput, opts ...request.Option) (*awss3.DeleteObjectsOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, obj := range in.Delete.Objects {
		delete(b.objects, aws.StringValue(obj.Key))
	}
	return &awss3.DeleteObjectsOutput{}, nil
}

func (b *fakeBucket) keys(prefix string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func newTestStore(t *testing.T, b *fakeBucket) *Store {
	t.Helper()
	s, err := NewWithUploader(Config{URI: "s3://lake/out", TempDir: t.TempDir()}, b, b, nil)
	if err != nil {
		t.Fatalf("NewWithUploader failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func songs(ids ...string) *models.Table {
	rows := make([]models.SongDim, len(ids))
	for i, id := range ids {
		rows[i] = models.SongDim{SongID: id, Title: "T" + id, ArtistID: "A" + id, Duration: 1, Year: 2000}
	}
	return models.SongsTable(rows)
}

func publish(t *testing.T, s *Store, runID string, table *models.Table) error {
	t.Helper()
	ctx := context.Background()
	txn, err := s.Begin(ctx, runID)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := txn.WriteTable(ctx, table, []string{"year", "artist_id"}, models.ModeOverwrite); err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}
	return txn.Commit(ctx)
}

func TestCommitUploadsLayout(t *testing.T) {
	b := newFakeBucket()
	s := newTestStore(t, b)

	if err := publish(t, s, "run-1", songs("1", "2")); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	keys := b.keys("out/songs_table.parquet/")
	if len(keys) != 3 {
		t.Fatalf("keys = %v, want two data files and a marker", keys)
	}
	// "_" sorts before "y".
	if keys[0] != "out/songs_table.parquet/_SUCCESS" {
		t.Errorf("missing success marker in %v", keys)
	}
	if !strings.HasPrefix(keys[1], "out/songs_table.parquet/year=2000/artist_id=A1/part-") {
		t.Errorf("unexpected data key %s", keys[1])
	}

	var m parquet.Manifest
	if err := yaml.Unmarshal(b.objects["out/_manifest.yaml"], &m); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if m.RunID != "run-1" || len(m.Tables) != 1 || m.Tables[0].Rows != 2 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestCommitRemovesPreviousRun(t *testing.T) {
	b := newFakeBucket()
	s := newTestStore(t, b)

	if err := publish(t, s, "run-1", songs("1", "2")); err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	if err := publish(t, s, "run-2", songs("3")); err != nil {
		t.Fatalf("second Commit failed: %v", err)
	}

	keys := b.keys("out/songs_table.parquet/")
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want one data file and a marker", keys)
	}
	if !strings.Contains(keys[1], "artist_id=A3") || !strings.Contains(keys[1], "run-2") {
		t.Errorf("stale object survived: %v", keys)
	}
}

func TestFailedUploadKeepsPreviousRun(t *testing.T) {
	b := newFakeBucket()
	s := newTestStore(t, b)

	if err := publish(t, s, "run-1", songs("1")); err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	before := b.keys("out/")

	b.failOn = "artist_id=A2"
	if err := publish(t, s, "run-2", songs("1", "2")); err == nil {
		t.Fatal("expected Commit to fail")
	}

	after := b.keys("out/")
	if strings.Join(before, ",") != strings.Join(after, ",") {
		t.Errorf("bucket changed after failed commit:\nbefore %v\nafter  %v", before, after)
	}
}

func publishStar(t *testing.T, s *Store, runID string, artistIDs, songIDs []string) error {
	t.Helper()
	ctx := context.Background()
	txn, err := s.Begin(ctx, runID)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	artists := make([]models.ArtistDim, len(artistIDs))
	for i, id := range artistIDs {
		artists[i] = models.ArtistDim{ArtistID: id, Name: "N" + id}
	}
	if err := txn.WriteTable(ctx, models.ArtistsTable(artists), nil, models.ModeOverwrite); err != nil {
		t.Fatalf("WriteTable artists failed: %v", err)
	}
	if err := txn.WriteTable(ctx, songs(songIDs...), []string{"year", "artist_id"}, models.ModeOverwrite); err != nil {
		t.Fatalf("WriteTable songs failed: %v", err)
	}
	return txn.Commit(ctx)
}

func TestFailedUploadKeepsEarlierTableMarkers(t *testing.T) {
	tests := []struct {
		name   string
		failOn string
	}{
		{"data file of a later table", "songs_table.parquet/year=2000/artist_id=A2"},
		{"marker of a later table", "songs_table.parquet/_SUCCESS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBucket()
			s := newTestStore(t, b)

			if err := publishStar(t, s, "run-1", []string{"A1"}, []string{"1"}); err != nil {
				t.Fatalf("first Commit failed: %v", err)
			}
			before := b.keys("out/")

			b.failOn = tt.failOn
			if err := publishStar(t, s, "run-2", []string{"A1", "A2"}, []string{"1", "2"}); err == nil {
				t.Fatal("expected Commit to fail")
			}

			after := b.keys("out/")
			if strings.Join(before, ",") != strings.Join(after, ",") {
				t.Errorf("bucket changed after failed commit:\nbefore %v\nafter  %v", before, after)
			}
		})
	}
}

func TestCommitTwice(t *testing.T) {
	b := newFakeBucket()
	s := newTestStore(t, b)
	ctx := context.Background()

	txn, _ := s.Begin(ctx, "run-1")
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := txn.Commit(ctx); !errors.Is(err, parquet.ErrTxnDone) {
		t.Errorf("second Commit = %v, want ErrTxnDone", err)
	}
}

func TestNewRejectsBadURI(t *testing.T) {
	b := newFakeBucket()
	if _, err := NewWithUploader(Config{URI: "/local/path", TempDir: t.TempDir()}, b, b, nil); err == nil {
		t.Error("expected error for non-s3 URI")
	}
}
