package transaction

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/conduit-lang/persistence/internal/orm/unit"
)

// setupTestDB opens an in-memory database holding one table. A single
// connection keeps every statement on the same in-memory database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE PHONE (
			ID INTEGER PRIMARY KEY,
			NUMBER TEXT NOT NULL
		)
	`)
	if err != nil {
		t.Fatalf("failed to create test table: %v", err)
	}
	return db
}

func countPhones(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM PHONE").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestManager_Begin(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db)

	tx, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if tx.Level() != 0 {
		t.Errorf("expected level 0, got %d", tx.Level())
	}
	if tx.IsolationLevel() != ReadCommitted {
		t.Errorf("expected ReadCommitted, got %v", tx.IsolationLevel())
	}
	if err := tx.Rollback(); err != nil {
		t.Errorf("Rollback failed: %v", err)
	}
	if !tx.IsRolledBack() {
		t.Error("expected transaction to be rolled back")
	}
}

func TestManager_Defaults(t *testing.T) {
	mgr := NewManager(setupTestDB(t))
	if mgr.TransactionType() != unit.ResourceLocal {
		t.Errorf("expected RESOURCE_LOCAL, got %v", mgr.TransactionType())
	}

	mgr = NewManager(setupTestDB(t), WithTransactionType(unit.JTA), WithLogger(nil))
	if mgr.TransactionType() != unit.JTA {
		t.Errorf("expected JTA, got %v", mgr.TransactionType())
	}
	if mgr.logger == nil {
		t.Error("nil logger option must keep the default logger")
	}
}

func TestIsolationLevel(t *testing.T) {
	tests := []struct {
		level IsolationLevel
		name  string
		sql   sql.IsolationLevel
	}{
		{ReadUncommitted, "READ UNCOMMITTED", sql.LevelReadUncommitted},
		{ReadCommitted, "READ COMMITTED", sql.LevelReadCommitted},
		{RepeatableRead, "REPEATABLE READ", sql.LevelRepeatableRead},
		{Serializable, "SERIALIZABLE", sql.LevelSerializable},
		{IsolationLevel(99), "READ COMMITTED", sql.LevelReadCommitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			opts := tt.level.ToSQLOptions(true)
			if opts.Isolation != tt.sql || !opts.ReadOnly {
				t.Errorf("ToSQLOptions() = %+v", opts)
			}
		})
	}
}

func TestManager_WithTransaction(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db)
	ctx := context.Background()

	err := mgr.WithTransaction(ctx, func(ctx context.Context, tx *Transaction) error {
		if ambient, ok := FromContext(ctx); !ok || ambient != tx {
			t.Error("expected transaction to be carried by the context")
		}
		_, err := tx.Exec("INSERT INTO PHONE (ID, NUMBER) VALUES (1, '555-0100')")
		return err
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}
	if n := countPhones(t, db); n != 1 {
		t.Errorf("expected committed row, got %d rows", n)
	}

	boom := errors.New("boom")
	err = mgr.WithTransaction(ctx, func(ctx context.Context, tx *Transaction) error {
		if _, err := tx.Exec("INSERT INTO PHONE (ID, NUMBER) VALUES (2, '555-0101')"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := countPhones(t, db); n != 1 {
		t.Errorf("expected rollback, got %d rows", n)
	}
}

func TestManager_WithTransactionPanic(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic to propagate")
		}
		if n := countPhones(t, db); n != 0 {
			t.Errorf("expected rollback after panic, got %d rows", n)
		}
	}()

	_ = mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
		if _, err := tx.Exec("INSERT INTO PHONE (ID, NUMBER) VALUES (1, '555-0100')"); err != nil {
			return err
		}
		panic("boom")
	})
}

func TestTransaction_CommitTwice(t *testing.T) {
	mgr := NewManager(setupTestDB(t))
	tx, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := tx.Commit(); err == nil {
		t.Error("expected second commit to fail")
	}
	if err := tx.Rollback(); err == nil {
		t.Error("expected rollback after commit to fail")
	}
}

func TestTransaction_Nested(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db)
	ctx := context.Background()

	outer, err := mgr.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := outer.Exec("INSERT INTO PHONE (ID, NUMBER) VALUES (1, '555-0100')"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	inner, err := outer.BeginNested(ctx)
	if err != nil {
		t.Fatalf("BeginNested failed: %v", err)
	}
	if inner.Level() != 1 {
		t.Errorf("expected level 1, got %d", inner.Level())
	}
	if _, err := inner.Exec("INSERT INTO PHONE (ID, NUMBER) VALUES (2, '555-0101')"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := inner.Rollback(); err != nil {
		t.Fatalf("nested Rollback failed: %v", err)
	}
	if err := outer.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if n := countPhones(t, db); n != 1 {
		t.Errorf("expected only the outer row, got %d rows", n)
	}

	empty := &Transaction{}
	if _, err := empty.BeginNested(ctx); !errors.Is(err, ErrNestedTransactionNotSupported) {
		t.Errorf("expected ErrNestedTransactionNotSupported, got %v", err)
	}
}

func TestManager_RunResourceLocal(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db)

	var seen *Transaction
	err := mgr.Run(context.Background(), func(ctx context.Context, q Querier) error {
		tx, ok := q.(*Transaction)
		if !ok {
			t.Fatalf("expected a transaction, got %T", q)
		}
		seen = tx
		rows, err := q.QueryContext(ctx, "SELECT ID FROM PHONE")
		if err != nil {
			return err
		}
		return rows.Close()
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if seen == nil || !seen.IsCommitted() {
		t.Error("expected resource-local transaction to be committed")
	}
}

func TestManager_RunJoinsAmbient(t *testing.T) {
	for _, txType := range []unit.TransactionType{unit.ResourceLocal, unit.JTA} {
		t.Run(txType.String(), func(t *testing.T) {
			mgr := NewManager(setupTestDB(t), WithTransactionType(txType))
			ambient, err := mgr.Begin(context.Background())
			if err != nil {
				t.Fatalf("Begin failed: %v", err)
			}
			defer ambient.Rollback()

			err = mgr.Run(ambient.Context(), func(ctx context.Context, q Querier) error {
				if q != ambient {
					t.Error("expected the ambient transaction")
				}
				return nil
			})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if ambient.IsCommitted() {
				t.Error("joined transaction must be left to its owner")
			}
		})
	}
}

func TestManager_RunJTAWithoutAmbient(t *testing.T) {
	mgr := NewManager(setupTestDB(t), WithTransactionType(unit.JTA))
	called := false
	err := mgr.Run(context.Background(), func(ctx context.Context, q Querier) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNoAmbientTransaction) {
		t.Fatalf("expected ErrNoAmbientTransaction, got %v", err)
	}
	if called {
		t.Error("work must not run without a transaction")
	}
}

func TestManager_RunTimeout(t *testing.T) {
	mgr := NewManager(setupTestDB(t), WithTimeout(10*time.Millisecond))
	err := mgr.Run(context.Background(), func(ctx context.Context, q Querier) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTransactionTimeout) {
		t.Fatalf("expected ErrTransactionTimeout, got %v", err)
	}
}
