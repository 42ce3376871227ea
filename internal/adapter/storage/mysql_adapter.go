package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/port"
)

const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errLockDeadlock    = 1213
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		sku            VARCHAR(255) NOT NULL PRIMARY KEY,
		version_number INT          NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		reference          VARCHAR(255) NOT NULL PRIMARY KEY,
		sku                VARCHAR(255) NOT NULL,
		purchased_quantity INT          NOT NULL,
		eta                DATETIME(6)  NULL,
		position           INT          NOT NULL,
		INDEX idx_batches_sku (sku)
	)`,
	`CREATE TABLE IF NOT EXISTS allocations (
		orderid         VARCHAR(255) NOT NULL,
		sku             VARCHAR(255) NOT NULL,
		qty             INT          NOT NULL,
		batch_reference VARCHAR(255) NOT NULL,
		position        INT          NOT NULL,
		PRIMARY KEY (sku, orderid),
		INDEX idx_allocations_batch (batch_reference)
	)`,
}

// MySQLStore persists Product aggregates in three tables. The products row
// carries version_number, which every commit compares and bumps.
type MySQLStore struct {
	db *sql.DB
}

// OpenMySQL opens a pool for dsn. parseTime is forced on because batch ETAs
// are scanned into time values, and times are read and written in UTC.
func OpenMySQL(dsn string) (*sql.DB, error) {
	cfg, err := mysqlConfig(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func mysqlConfig(dsn string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg, nil
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Migrate creates the tables when they do not exist.
func (m *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// NewUnitOfWork returns a session over the store. It satisfies
// port.UnitOfWorkFactory.
func (m *MySQLStore) NewUnitOfWork() port.UnitOfWork {
	return &mysqlUnitOfWork{db: m.db}
}

var _ port.UnitOfWork = (*mysqlUnitOfWork)(nil)
var _ port.ProductRepository = (*mysqlProductRepository)(nil)

type mysqlUnitOfWork struct {
	db        *sql.DB
	tx        *sql.Tx
	seen      []*domain.Product
	committed bool
}

func (u *mysqlUnitOfWork) Begin(ctx context.Context) (port.ProductRepository, error) {
	// Read committed keeps InnoDB from taking gap locks, so sessions on
	// different SKUs never wait on each other. A load that straddles another
	// commit is caught by the version check in save.
	tx, err := u.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	u.tx = tx
	u.seen = nil
	u.committed = false
	return &mysqlProductRepository{uow: u}, nil
}

func (u *mysqlUnitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return errors.New("commit: unit of work not started")
	}
	for _, p := range u.seen {
		if err := u.save(ctx, p); err != nil {
			u.tx.Rollback()
			return lockConflict(err, p)
		}
	}
	if err := u.tx.Commit(); err != nil {
		if len(u.seen) > 0 {
			err = lockConflict(err, u.seen[0])
		}
		if domain.IsConcurrencyConflictError(err) {
			return err
		}
		return fmt.Errorf("commit: %w", err)
	}
	for _, p := range u.seen {
		p.Version++
	}
	u.committed = true
	return nil
}

func (u *mysqlUnitOfWork) Rollback() error {
	if u.committed || u.tx == nil {
		return nil
	}
	for _, p := range u.seen {
		p.PopEvents()
	}
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (u *mysqlUnitOfWork) CollectNewEvents() []domain.Event {
	var events []domain.Event
	for _, p := range u.seen {
		events = append(events, p.PopEvents()...)
	}
	return events
}

func (u *mysqlUnitOfWork) tracked(sku string) *domain.Product {
	for _, p := range u.seen {
		if p.SKU == sku {
			return p
		}
	}
	return nil
}

// save writes one product inside the transaction. The version check comes
// first so a conflict happens before any row of the product is touched.
func (u *mysqlUnitOfWork) save(ctx context.Context, p *domain.Product) error {
	if p.Version == 0 {
		_, err := u.tx.ExecContext(ctx, `
			INSERT INTO products (sku, version_number) VALUES (?, 1)`, p.SKU)
		if isDuplicateEntry(err) {
			return domain.NewConcurrencyConflictError(p.SKU, p.Version)
		}
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
	} else {
		result, err := u.tx.ExecContext(ctx, `
			UPDATE products
			SET version_number = version_number + 1
			WHERE sku = ? AND version_number = ?`,
			p.SKU, p.Version,
		)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return domain.NewConcurrencyConflictError(p.SKU, p.Version)
		}
	}

	if _, err := u.tx.ExecContext(ctx, `DELETE FROM allocations WHERE sku = ?`, p.SKU); err != nil {
		return fmt.Errorf("clear allocations: %w", err)
	}
	if _, err := u.tx.ExecContext(ctx, `DELETE FROM batches WHERE sku = ?`, p.SKU); err != nil {
		return fmt.Errorf("clear batches: %w", err)
	}

	position := 0
	for i, b := range p.Batches() {
		var eta sql.NullTime
		if b.ETA != nil {
			eta = sql.NullTime{Time: *b.ETA, Valid: true}
		}
		_, err := u.tx.ExecContext(ctx, `
			INSERT INTO batches (reference, sku, purchased_quantity, eta, position)
			VALUES (?, ?, ?, ?, ?)`,
			b.Reference, b.SKU, b.PurchasedQuantity(), eta, i,
		)
		if isDuplicateEntry(err) {
			return domain.NewDuplicateBatchError(b.Reference)
		}
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}

		for _, line := range b.Allocations() {
			_, err := u.tx.ExecContext(ctx, `
				INSERT INTO allocations (orderid, sku, qty, batch_reference, position)
				VALUES (?, ?, ?, ?, ?)`,
				line.OrderID, line.SKU, line.Quantity, b.Reference, position,
			)
			if err != nil {
				return fmt.Errorf("insert allocation: %w", err)
			}
			position++
		}
	}
	return nil
}

type mysqlProductRepository struct {
	uow *mysqlUnitOfWork
}

func (r *mysqlProductRepository) Add(ctx context.Context, product *domain.Product) error {
	if r.uow.tracked(product.SKU) == nil {
		r.uow.seen = append(r.uow.seen, product)
	}
	return nil
}

func (r *mysqlProductRepository) Get(ctx context.Context, sku string) (*domain.Product, error) {
	if p := r.uow.tracked(sku); p != nil {
		return p, nil
	}
	p, err := r.load(ctx, sku)
	if err != nil || p == nil {
		return nil, err
	}
	r.uow.seen = append(r.uow.seen, p)
	return p, nil
}

func (r *mysqlProductRepository) GetByBatchRef(ctx context.Context, ref string) (*domain.Product, error) {
	for _, p := range r.uow.seen {
		if _, ok := p.Batch(ref); ok {
			return p, nil
		}
	}

	var sku string
	err := r.uow.tx.QueryRowContext(ctx, `SELECT sku FROM batches WHERE reference = ?`, ref).Scan(&sku)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query batch: %w", err)
	}
	return r.Get(ctx, sku)
}

func (r *mysqlProductRepository) List(ctx context.Context) ([]*domain.Product, error) {
	rows, err := r.uow.tx.QueryContext(ctx, `SELECT sku FROM products ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	var skus []string
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan product: %w", err)
		}
		skus = append(skus, sku)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}

	out := make([]*domain.Product, 0, len(skus))
	for _, sku := range skus {
		p, err := r.load(ctx, sku)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// load reads a product without tracking it.
func (r *mysqlProductRepository) load(ctx context.Context, sku string) (*domain.Product, error) {
	tx := r.uow.tx

	var version int
	err := tx.QueryRowContext(ctx, `SELECT version_number FROM products WHERE sku = ?`, sku).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}

	lines, err := r.loadAllocations(ctx, sku)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT reference, purchased_quantity, eta
		FROM batches WHERE sku = ? ORDER BY position`, sku)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var batches []*domain.Batch
	for rows.Next() {
		var ref string
		var qty int
		var eta sql.NullTime
		if err := rows.Scan(&ref, &qty, &eta); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		var etaPtr *time.Time
		if eta.Valid {
			etaPtr = &eta.Time
		}
		batches = append(batches, domain.RestoreBatch(ref, sku, qty, etaPtr, lines[ref]))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}

	return domain.RestoreProduct(sku, version, batches), nil
}

func (r *mysqlProductRepository) loadAllocations(ctx context.Context, sku string) (map[string][]domain.OrderLine, error) {
	rows, err := r.uow.tx.QueryContext(ctx, `
		SELECT batch_reference, orderid, qty
		FROM allocations WHERE sku = ? ORDER BY position`, sku)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer rows.Close()

	lines := make(map[string][]domain.OrderLine)
	for rows.Next() {
		var ref string
		line := domain.OrderLine{SKU: sku}
		if err := rows.Scan(&ref, &line.OrderID, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		lines[ref] = append(lines[ref], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	return lines, nil
}

// lockConflict turns a deadlock or lock wait timeout into a concurrency
// conflict on p so callers retry it like a version mismatch.
func lockConflict(err error, p *domain.Product) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && (mysqlErr.Number == errLockDeadlock || mysqlErr.Number == errLockWaitTimeout) {
		return domain.NewConcurrencyConflictError(p.SKU, p.Version)
	}
	return err
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry
}
