package dual

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/fidde/songplay_lake/internal/storage"
	"github.com/fidde/songplay_lake/internal/storage/memory"
	"github.com/fidde/songplay_lake/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func usersTable() *models.Table {
	return models.UsersTable([]models.UserDim{
		{UserID: "U1", FirstName: "Jo", LastName: "Doe", Gender: "F", Level: "free"},
	})
}

// failingStore is a backend whose transactions fail on the given operation.
type failingStore struct {
	failOn string
}

func (f *failingStore) Name() string { return "failing" }
func (f *failingStore) Close() error { return nil }
func (f *failingStore) fail(op string) error {
	if f.failOn == op {
		return errors.New("injected " + op + " failure")
	}
	return nil
}

func (f *failingStore) Begin(ctx context.Context, runID string) (storage.Txn, error) {
	if err := f.fail("Begin"); err != nil {
		return nil, err
	}
	return &failingTxn{store: f}, nil
}

type failingTxn struct {
	store      *failingStore
	rolledBack bool
}

func (t *failingTxn) WriteTable(ctx context.Context, table *models.Table, partitionBy []string, mode models.WriteMode) error {
	return t.store.fail("WriteTable")
}

func (t *failingTxn) Commit(ctx context.Context) error {
	return t.store.fail("Commit")
}

func (t *failingTxn) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

func TestDualWrite(t *testing.T) {
	primary := memory.New()
	secondary := memory.New()

	store := New(Config{
		Primary:   primary,
		Secondary: secondary,
		Logger:    testLogger(),
	})
	defer store.Close()

	ctx := context.Background()

	txn, err := store.Begin(ctx, "run-1")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := txn.WriteTable(ctx, usersTable(), nil, models.ModeOverwrite); err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	for name, backend := range map[string]*memory.Store{"primary": primary, "secondary": secondary} {
		p, err := backend.Table(ctx, models.TableUsers)
		if err != nil {
			t.Fatalf("%s: Table failed: %v", name, err)
		}
		if p.Table.Len() != 1 {
			t.Errorf("%s: expected 1 row, got %d", name, p.Table.Len())
		}
	}

	if got := store.Name(); got != "dual(memory,memory)" {
		t.Errorf("Name() = %q", got)
	}
}

func TestSecondaryFailureDoesNotFailRun(t *testing.T) {
	for _, op := range []string{"Begin", "WriteTable", "Commit"} {
		t.Run(op, func(t *testing.T) {
			primary := memory.New()
			store := New(Config{
				Primary:   primary,
				Secondary: &failingStore{failOn: op},
				Logger:    testLogger(),
			})
			ctx := context.Background()

			txn, err := store.Begin(ctx, "run-1")
			if err != nil {
				t.Fatalf("Begin failed: %v", err)
			}
			if err := txn.WriteTable(ctx, usersTable(), nil, models.ModeOverwrite); err != nil {
				t.Fatalf("WriteTable failed: %v", err)
			}
			if err := txn.Commit(ctx); err != nil {
				t.Fatalf("Commit failed: %v", err)
			}

			if _, err := primary.Table(ctx, models.TableUsers); err != nil {
				t.Errorf("primary not published: %v", err)
			}
		})
	}
}

func TestPrimaryFailureRollsBackSecondary(t *testing.T) {
	secondary := memory.New()
	store := New(Config{
		Primary:   &failingStore{failOn: "WriteTable"},
		Secondary: secondary,
		Logger:    testLogger(),
	})
	ctx := context.Background()

	txn, err := store.Begin(ctx, "run-1")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := txn.WriteTable(ctx, usersTable(), nil, models.ModeOverwrite); err == nil {
		t.Fatal("expected primary WriteTable error")
	}
	if err := txn.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if _, err := secondary.Table(ctx, models.TableUsers); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("secondary published after rollback: %v", err)
	}
}

func TestSecondaryWriteFailureRollsItBack(t *testing.T) {
	bad := &failingStore{failOn: "WriteTable"}
	store := New(Config{
		Primary:   memory.New(),
		Secondary: bad,
		Logger:    testLogger(),
	})
	ctx := context.Background()

	txn, _ := store.Begin(ctx, "run-1")
	dt := txn.(*Txn)
	stx := dt.secondary.(*failingTxn)

	if err := txn.WriteTable(ctx, usersTable(), nil, models.ModeOverwrite); err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}
	if !stx.rolledBack {
		t.Error("secondary was not rolled back after its write failed")
	}
	if dt.secondary != nil {
		t.Error("secondary still attached after failure")
	}
	txn.Commit(ctx)
}
