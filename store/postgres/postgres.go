/*
Package postgres provides a gorm-backed implementation of the checkpoint
storage and catalog interfaces.

PURPOSE:
  Production store for sites that run PostgreSQL. Same tables as
  store/sqlite, created with gorm AutoMigrate.

LOCKING:
  LockTicket issues SELECT ... FOR UPDATE on the ticket row, so two
  transactions on the same ticket serialize while other tickets proceed.
  Under the sqlite dialect (development and tests) the locking clause is
  left out; there the IMMEDIATE transaction already serializes writers.

ERRORS:
  gorm runs with TranslateError, so unique violations arrive as
  gorm.ErrDuplicatedKey and become StageViolationError.
  gorm.ErrRecordNotFound becomes NotFoundError.

SEE ALSO:
  - store/sqlite: database/sql twin of this store
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/weighbridge/checkpoint"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store implements checkpoint.TxStore and checkpoint.Catalog using gorm.
type Store struct {
	reader
	db *gorm.DB
}

// Config holds connection settings for Open.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	LogLevel     logger.LogLevel
}

// DSN renders the libpq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Open connects to PostgreSQL and migrates the schema.
func Open(cfg Config) (*Store, error) {
	db, err := gorm.Open(pgdriver.Open(cfg.DSN()), gormConfig(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	return New(db)
}

// OpenSQLite opens the same schema over sqlite. Use ":memory:" for tests.
func OpenSQLite(path string) (*Store, error) {
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(logger.Silent))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

func gormConfig(level logger.LogLevel) *gorm.Config {
	if level == 0 {
		level = logger.Warn
	}
	return &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	}
}

// New wraps an open gorm connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{reader: reader{db: db}, db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// =============================================================================
// READ SIDE
// =============================================================================

type reader struct {
	db *gorm.DB
}

func (r reader) Ticket(ctx context.Context, no checkpoint.TicketNo) (checkpoint.Ticket, error) {
	return r.ticket(r.db.WithContext(ctx), no)
}

func (r reader) ticket(q *gorm.DB, no checkpoint.TicketNo) (checkpoint.Ticket, error) {
	var m ticketModel
	err := q.Where("ticket_no = ?", int64(no)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return checkpoint.Ticket{}, checkpoint.NotFound("ticket", no)
	}
	if err != nil {
		return checkpoint.Ticket{}, fmt.Errorf("failed to load ticket: %w", err)
	}
	return m.toTicket()
}

func (r reader) ListTickets(ctx context.Context, f checkpoint.TicketFilter) ([]checkpoint.Ticket, error) {
	query := r.filtered(ctx, f)
	query = query.Order("tickets.transaction_date ASC").Order("tickets.ticket_no ASC")

	var models []ticketModel
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	tickets := make([]checkpoint.Ticket, 0, len(models))
	for _, m := range models {
		t, err := m.toTicket()
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func (r reader) CountTickets(ctx context.Context, f checkpoint.TicketFilter) (int, error) {
	var n int64
	if err := r.filtered(ctx, f).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return int(n), nil
}

func (r reader) filtered(ctx context.Context, f checkpoint.TicketFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&ticketModel{})
	if f.SiteID != "" {
		query = query.Where("tickets.site_id = ?", f.SiteID)
	}
	if f.CompanyID != "" {
		query = query.Where("tickets.company_id = ?", f.CompanyID)
	}
	if f.Direction != "" {
		query = query.Where("tickets.direction = ?", string(f.Direction))
	}
	if len(f.CurrentStatus) > 0 {
		codes := make([]string, len(f.CurrentStatus))
		for i, c := range f.CurrentStatus {
			codes[i] = string(c)
		}
		query = query.
			Joins("JOIN vehicle_transaction_status s ON s.ticket_no = tickets.ticket_no").
			Where("s.status_code IN ?", codes)
	}
	if f.VehicleID != 0 {
		query = query.Where("tickets.vehicle_id = ?", f.VehicleID)
	}
	if f.SupplierIDs != nil {
		query = whereIn(query, "tickets.supplier_id", f.SupplierIDs)
	}
	if f.CustomerIDs != nil {
		query = whereIn(query, "tickets.customer_id", f.CustomerIDs)
	}
	if f.TransactionDate != nil {
		query = query.Where("tickets.transaction_date = ?", f.TransactionDate.Format(dateLayout))
	}
	if f.OnlyInside {
		query = query.Where("tickets.weigh_out_at IS NULL")
	}
	return query
}

func whereIn(query *gorm.DB, column string, ids []int64) *gorm.DB {
	if len(ids) == 0 {
		return query.Where("1 = 0")
	}
	return query.Where(column+" IN ?", ids)
}

func (r reader) Entries(ctx context.Context, no checkpoint.TicketNo) ([]checkpoint.LedgerEntry, error) {
	var models []ledgerModel
	err := r.db.WithContext(ctx).
		Where("ticket_no = ?", int64(no)).
		Order("logged_at ASC").Order("seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	entries := make([]checkpoint.LedgerEntry, len(models))
	for i, m := range models {
		entries[i] = m.toEntry()
	}
	checkpoint.SortEntries(entries)
	return entries, nil
}

func (r reader) CurrentStatus(ctx context.Context, no checkpoint.TicketNo) (checkpoint.StageCode, bool, error) {
	var m statusModel
	err := r.db.WithContext(ctx).Where("ticket_no = ?", int64(no)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return checkpoint.StageNotStarted, false, nil
	}
	if err != nil {
		return checkpoint.StageNotStarted, false, fmt.Errorf("failed to load status: %w", err)
	}
	return checkpoint.StageCode(m.StatusCode), true, nil
}

func (r reader) QualityRecord(ctx context.Context, no checkpoint.TicketNo) (checkpoint.QualityRecord, bool, error) {
	var m qualityModel
	err := r.db.WithContext(ctx).Where("ticket_no = ?", int64(no)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return checkpoint.QualityRecord{}, false, nil
	}
	if err != nil {
		return checkpoint.QualityRecord{}, false, fmt.Errorf("failed to load quality record: %w", err)
	}
	rec, err := checkpoint.DecodeQualityRecord(no, m.QualityRangeID, m.QualityValues)
	if err != nil {
		return checkpoint.QualityRecord{}, false, err
	}
	return rec, true, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(checkpoint.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txStore{reader: reader{db: tx}, tx: tx})
	})
}

type txStore struct {
	reader
	tx *gorm.DB
}

func (ts *txStore) LockTicket(ctx context.Context, no checkpoint.TicketNo) (checkpoint.Ticket, error) {
	q := ts.tx.WithContext(ctx)
	if ts.tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return ts.ticket(q, no)
}

func (ts *txStore) CreateTicket(ctx context.Context, t checkpoint.Ticket) (checkpoint.Ticket, error) {
	m := toTicketModel(t)
	m.CreatedAt = time.Now().UTC()
	if err := ts.tx.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return checkpoint.Ticket{}, &checkpoint.StageViolationError{
				TicketNo: t.No,
				Reason:   "ticket number already used",
			}
		}
		return checkpoint.Ticket{}, fmt.Errorf("failed to insert ticket: %w", err)
	}
	if t.No != 0 && ts.tx.Dialector.Name() == "postgres" {
		// A preset number bypasses the serial; move it past the number so
		// later auto-assigned tickets do not collide.
		err := ts.tx.WithContext(ctx).Exec(
			`SELECT setval(pg_get_serial_sequence('tickets', 'ticket_no'),
				GREATEST((SELECT MAX(ticket_no) FROM tickets), 1))`).Error
		if err != nil {
			return checkpoint.Ticket{}, fmt.Errorf("failed to advance ticket sequence: %w", err)
		}
	}
	t.No = checkpoint.TicketNo(m.TicketNo)
	return t, nil
}

func (ts *txStore) AppendEntry(ctx context.Context, e checkpoint.LedgerEntry) (checkpoint.LedgerEntry, error) {
	m := ledgerModel{
		ID:         e.ID,
		TicketNo:   int64(e.TicketNo),
		StatusCode: string(e.Code),
		ActorID:    e.ActorID,
		LoggedAt:   e.At,
	}
	if err := ts.tx.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return checkpoint.LedgerEntry{}, &checkpoint.StageViolationError{
				TicketNo:  e.TicketNo,
				Requested: e.Code,
				Reason:    "stage already recorded",
			}
		}
		return checkpoint.LedgerEntry{}, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	e.Seq = m.Seq
	return e, nil
}

func (ts *txStore) SetCurrentStatus(ctx context.Context, no checkpoint.TicketNo, code checkpoint.StageCode) error {
	m := statusModel{TicketNo: int64(no), StatusCode: string(code), UpdatedAt: time.Now().UTC()}
	err := ts.tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticket_no"}},
		DoUpdates: clause.AssignmentColumns([]string{"status_code", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	return nil
}

func (ts *txStore) SaveQualityRecord(ctx context.Context, r checkpoint.QualityRecord) error {
	ids, values := r.Encode()
	m := qualityModel{
		TicketNo:       int64(r.TicketNo),
		QualityRangeID: ids,
		QualityValues:  values,
		CreatedAt:      time.Now().UTC(),
	}
	if err := ts.tx.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &checkpoint.StageViolationError{
				TicketNo:  r.TicketNo,
				Requested: checkpoint.StageQualityCheck,
				Reason:    "quality already recorded",
			}
		}
		return fmt.Errorf("failed to save quality record: %w", err)
	}
	return nil
}

func (ts *txStore) SetWeighOut(ctx context.Context, no checkpoint.TicketNo, at time.Time) error {
	res := ts.tx.WithContext(ctx).Model(&ticketModel{}).
		Where("ticket_no = ? AND weigh_out_at IS NULL", int64(no)).
		Update("weigh_out_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to set weigh-out: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := ts.ticket(ts.tx.WithContext(ctx), no); err != nil {
		return err
	}
	return &checkpoint.StageViolationError{TicketNo: no, Reason: "vehicle already weighed out"}
}
