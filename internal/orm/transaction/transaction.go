// Package transaction runs query execution inside database transactions
// according to the persistence unit's transaction type. Resource-local
// units begin and commit their own transactions; JTA units only join a
// transaction that is already carried by the context.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/persistence/internal/orm/unit"
)

var (
	// ErrTransactionAborted is returned when a transaction is explicitly aborted
	ErrTransactionAborted = errors.New("transaction aborted")
	// ErrDeadlock is returned when retries of a deadlocked transaction are exhausted
	ErrDeadlock = errors.New("deadlock detected")
	// ErrTransactionTimeout is returned when a transaction times out
	ErrTransactionTimeout = errors.New("transaction timeout")
	// ErrNestedTransactionNotSupported is returned when nested transactions are not supported
	ErrNestedTransactionNotSupported = errors.New("nested transactions require an existing transaction")
	// ErrNoAmbientTransaction is returned when a JTA unit runs work outside a transaction
	ErrNoAmbientTransaction = errors.New("no ambient transaction in context")
)

// savepointCounter provides unique savepoint IDs across all transactions
var savepointCounter atomic.Uint64

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// ReadUncommitted allows dirty reads
	ReadUncommitted IsolationLevel = iota
	// ReadCommitted prevents dirty reads (PostgreSQL default)
	ReadCommitted
	// RepeatableRead prevents non-repeatable reads
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the string representation of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

// ToSQLOptions converts IsolationLevel to sql.TxOptions
func (l IsolationLevel) ToSQLOptions(readOnly bool) *sql.TxOptions {
	var level sql.IsolationLevel
	switch l {
	case ReadUncommitted:
		level = sql.LevelReadUncommitted
	case ReadCommitted:
		level = sql.LevelReadCommitted
	case RepeatableRead:
		level = sql.LevelRepeatableRead
	case Serializable:
		level = sql.LevelSerializable
	default:
		level = sql.LevelReadCommitted
	}
	return &sql.TxOptions{Isolation: level, ReadOnly: readOnly}
}

// Querier runs statements that return rows. It is satisfied by *sql.DB,
// *sql.Tx and *Transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Transaction is a database transaction, or a savepoint nested inside one
type Transaction struct {
	db             *sql.DB
	tx             *sql.Tx
	ctx            context.Context
	level          int // 0 = top-level, 1+ = savepoint
	savepointName  string
	committed      atomic.Bool
	rolledBack     atomic.Bool
	isolationLevel IsolationLevel
}

// Manager begins transactions for one persistence unit
type Manager struct {
	db       *sql.DB
	txType   unit.TransactionType
	level    IsolationLevel
	readOnly bool
	timeout  time.Duration
	retry    *RetryConfig
	logger   *zap.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithTransactionType sets the unit's transaction type
func WithTransactionType(t unit.TransactionType) Option {
	return func(m *Manager) {
		m.txType = t
	}
}

// WithIsolation sets the isolation level of transactions begun by Run
func WithIsolation(level IsolationLevel) Option {
	return func(m *Manager) {
		m.level = level
	}
}

// WithReadOnly marks transactions begun by Run as read-only
func WithReadOnly(readOnly bool) Option {
	return func(m *Manager) {
		m.readOnly = readOnly
	}
}

// WithTimeout bounds every transaction begun by Run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithRetry retries transactions begun by Run on deadlock or serialization
// failure. A nil config disables retries.
func WithRetry(config *RetryConfig) Option {
	return func(m *Manager) {
		m.retry = config
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a new transaction manager
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		txType: unit.DefaultTransactionType,
		level:  ReadCommitted,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TransactionType returns the unit's transaction type
func (m *Manager) TransactionType() unit.TransactionType {
	return m.txType
}

// Begin starts a new transaction with the manager's isolation level
func (m *Manager) Begin(ctx context.Context) (*Transaction, error) {
	return m.BeginWithIsolation(ctx, m.level)
}

// BeginWithIsolation starts a new transaction with the specified isolation level
func (m *Manager) BeginWithIsolation(ctx context.Context, level IsolationLevel) (*Transaction, error) {
	tx, err := m.db.BeginTx(ctx, level.ToSQLOptions(m.readOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &Transaction{
		db:             m.db,
		tx:             tx,
		ctx:            ctx,
		level:          0,
		isolationLevel: level,
	}, nil
}

// WithTransaction executes fn within a new transaction carried by the
// context passed to fn. It commits on success and rolls back on error or panic.
func (m *Manager) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error) error {
	return m.WithTransactionIsolation(ctx, m.level, fn)
}

// WithTransactionIsolation is WithTransaction with an explicit isolation level
func (m *Manager) WithTransactionIsolation(ctx context.Context, level IsolationLevel, fn func(ctx context.Context, tx *Transaction) error) error {
	tx, err := m.BeginWithIsolation(ctx, level)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(WithContext(ctx, tx), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Run executes fn against the transaction the unit's transaction type
// calls for. An ambient transaction in ctx is always joined. Without one,
// a JTA unit fails with ErrNoAmbientTransaction and a resource-local unit
// begins, and later commits or rolls back, a transaction of its own.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	if tx, ok := FromContext(ctx); ok {
		m.logger.Debug("joining ambient transaction", zap.Int("level", tx.Level()))
		return fn(ctx, tx)
	}
	if m.txType == unit.JTA {
		return ErrNoAmbientTransaction
	}

	if m.timeout > 0 {
		timeoutCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		err := m.runLocal(timeoutCtx, fn)
		if err != nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: transaction exceeded %v", ErrTransactionTimeout, m.timeout)
		}
		return err
	}
	return m.runLocal(ctx, fn)
}

func (m *Manager) runLocal(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	work := func(ctx context.Context, tx *Transaction) error {
		return fn(ctx, tx)
	}
	if m.retry != nil {
		return m.WithRetryConfig(ctx, m.retry, work)
	}
	return m.WithTransaction(ctx, work)
}

// Context returns a context with the transaction embedded
func (t *Transaction) Context() context.Context {
	return WithContext(t.ctx, t)
}

// DB returns the underlying database connection
func (t *Transaction) DB() *sql.DB {
	return t.db
}

// Tx returns the underlying sql.Tx
func (t *Transaction) Tx() *sql.Tx {
	return t.tx
}

// Level returns the nesting level of the transaction
func (t *Transaction) Level() int {
	return t.level
}

// IsolationLevel returns the isolation level of the transaction
func (t *Transaction) IsolationLevel() IsolationLevel {
	return t.isolationLevel
}

// Commit commits the transaction, or releases the savepoint of a nested one
func (t *Transaction) Commit() error {
	if t.committed.Load() {
		return errors.New("transaction already committed")
	}
	if t.rolledBack.Load() {
		return errors.New("transaction already rolled back")
	}

	if t.level > 0 {
		if _, err := t.tx.ExecContext(t.ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", t.savepointName)); err != nil {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
		t.committed.Store(true)
		return nil
	}

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	t.committed.Store(true)
	return nil
}

// Rollback rolls back the transaction, or to the savepoint of a nested one
func (t *Transaction) Rollback() error {
	if t.committed.Load() {
		return errors.New("transaction already committed")
	}
	if t.rolledBack.Load() {
		return nil
	}

	if t.level > 0 {
		if _, err := t.tx.ExecContext(t.ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", t.savepointName)); err != nil {
			return fmt.Errorf("failed to rollback to savepoint: %w", err)
		}
		t.rolledBack.Store(true)
		return nil
	}

	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	t.rolledBack.Store(true)
	return nil
}

// BeginNested creates a nested transaction using a savepoint
func (t *Transaction) BeginNested(ctx context.Context) (*Transaction, error) {
	if t.tx == nil {
		return nil, ErrNestedTransactionNotSupported
	}

	savepointName := fmt.Sprintf("sp_%d_%d", savepointCounter.Add(1), t.level+1)
	if _, err := t.tx.ExecContext(ctx, fmt.Sprintf("SAVEPOINT %s", savepointName)); err != nil {
		return nil, fmt.Errorf("failed to create savepoint: %w", err)
	}

	return &Transaction{
		db:             t.db,
		tx:             t.tx,
		ctx:            ctx,
		level:          t.level + 1,
		savepointName:  savepointName,
		isolationLevel: t.isolationLevel,
	}, nil
}

// QueryContext executes a query that returns rows
func (t *Transaction) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// Exec executes a statement that doesn't return rows
func (t *Transaction) Exec(query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, query, args...)
}

// IsCommitted returns true if the transaction has been committed
func (t *Transaction) IsCommitted() bool {
	return t.committed.Load()
}

// IsRolledBack returns true if the transaction has been rolled back
func (t *Transaction) IsRolledBack() bool {
	return t.rolledBack.Load()
}
