/*
Package sqlite provides a SQLite-backed implementation of the checkpoint
storage and catalog interfaces.

PURPOSE:
  Implements checkpoint.TxStore and checkpoint.Catalog with database/sql
  and go-sqlite3. The schema follows the plant database: tickets,
  transaction_logs (the ledger), vehicle_transaction_status (the pointer)
  and quality_transactions, plus the master tables the catalog reads.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on transaction_logs
  - UNIQUE(ticket_no, status_code) rejects a repeated stage even if the
    engine's own check were bypassed
  - quality_transactions has one row per ticket (PRIMARY KEY ticket_no)

KEY TABLES:
  tickets:                    One row per vehicle journey
  transaction_logs:           Immutable stage ledger
  vehicle_transaction_status: Latest stage per ticket
  quality_transactions:       Comma-joined range ids and values

CONCURRENCY:
  Every transaction begins IMMEDIATE (_txlock=immediate), so the writer
  lock is taken up front and concurrent WithTx calls queue on the busy
  timeout instead of failing at commit. An in-memory database lives on a
  single connection, which serializes everything on it. There is no
  in-process mutex.

  Inside WithTx every read goes through the *sql.Tx. Reading through
  the *sql.DB there would need a second connection and can block
  forever on an in-memory database.

USAGE:
  store, err := sqlite.New("./data/weighbridge.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - checkpoint/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
  - store/postgres: gorm implementation with row locks
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/weighbridge/checkpoint"
)

const dateLayout = "2006-01-02"

// Store implements checkpoint.TxStore and checkpoint.Catalog using SQLite.
type Store struct {
	reader
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{reader: reader{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		ticket_no INTEGER PRIMARY KEY AUTOINCREMENT,
		direction TEXT NOT NULL,
		site_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		supplier_id INTEGER NOT NULL DEFAULT 0,
		customer_id INTEGER NOT NULL DEFAULT 0,
		material_id INTEGER NOT NULL DEFAULT 0,
		material_type TEXT NOT NULL DEFAULT '',
		transporter_id INTEGER NOT NULL DEFAULT 0,
		vehicle_id INTEGER NOT NULL DEFAULT 0,
		tp_no TEXT NOT NULL DEFAULT '',
		po_no TEXT NOT NULL DEFAULT '',
		challan_no TEXT NOT NULL DEFAULT '',
		weigh_in_at TEXT,
		weigh_out_at TEXT,
		transaction_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_site_company
		ON tickets(site_id, company_id, direction);
	CREATE INDEX IF NOT EXISTS idx_tickets_vehicle
		ON tickets(vehicle_id);
	CREATE INDEX IF NOT EXISTS idx_tickets_date
		ON tickets(transaction_date);

	-- Stage ledger (append-only)
	CREATE TABLE IF NOT EXISTS transaction_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		ticket_no INTEGER NOT NULL REFERENCES tickets(ticket_no),
		status_code TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		logged_at TEXT NOT NULL
	);

	-- A stage is recorded at most once per ticket
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transaction_logs_stage
		ON transaction_logs(ticket_no, status_code);

	CREATE TABLE IF NOT EXISTS vehicle_transaction_status (
		ticket_no INTEGER PRIMARY KEY REFERENCES tickets(ticket_no),
		status_code TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vehicle_transaction_status_code
		ON vehicle_transaction_status(status_code);

	CREATE TABLE IF NOT EXISTS quality_transactions (
		ticket_no INTEGER PRIMARY KEY REFERENCES tickets(ticket_no),
		quality_range_id TEXT NOT NULL,
		quality_values TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Master data
	CREATE TABLE IF NOT EXISTS suppliers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		address_line1 TEXT NOT NULL DEFAULT '',
		address_line2 TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		address_line1 TEXT NOT NULL DEFAULT '',
		address_line2 TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS materials (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transporters (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vehicles (
		id INTEGER PRIMARY KEY,
		vehicle_no TEXT NOT NULL UNIQUE COLLATE NOCASE
	);

	CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS quality_ranges (
		id INTEGER PRIMARY KEY,
		parameter_name TEXT NOT NULL,
		direction TEXT NOT NULL,
		material_name TEXT NOT NULL,
		supplier_name TEXT NOT NULL DEFAULT '',
		supplier_address TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_quality_ranges_lookup
		ON quality_ranges(parameter_name, direction, material_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// READ SIDE (checkpoint.Store interface)
// =============================================================================

// reader runs the read queries against either the database or an open
// transaction.
type reader struct {
	q querier
}

const ticketColumns = `
	t.ticket_no, t.direction, t.site_id, t.company_id, t.supplier_id, t.customer_id,
	t.material_id, t.material_type, t.transporter_id, t.vehicle_id,
	t.tp_no, t.po_no, t.challan_no, t.weigh_in_at, t.weigh_out_at, t.transaction_date`

func (r reader) Ticket(ctx context.Context, no checkpoint.TicketNo) (checkpoint.Ticket, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets t WHERE t.ticket_no = ?`, no)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return checkpoint.Ticket{}, checkpoint.NotFound("ticket", no)
	}
	if err != nil {
		return checkpoint.Ticket{}, fmt.Errorf("failed to load ticket: %w", err)
	}
	return t, nil
}

func (r reader) ListTickets(ctx context.Context, f checkpoint.TicketFilter) ([]checkpoint.Ticket, error) {
	where, args := filterClause(f)
	const order = ` ORDER BY t.transaction_date ASC, t.ticket_no ASC`

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets t
		 LEFT JOIN vehicle_transaction_status s ON s.ticket_no = t.ticket_no`+where+order, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []checkpoint.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r reader) CountTickets(ctx context.Context, f checkpoint.TicketFilter) (int, error) {
	where, args := filterClause(f)
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets t
		 LEFT JOIN vehicle_transaction_status s ON s.ticket_no = t.ticket_no`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return n, nil
}

// filterClause builds the WHERE clause for a ticket filter. Tickets are
// aliased t, the status row s.
func filterClause(f checkpoint.TicketFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.SiteID != "" {
		conds = append(conds, "t.site_id = ?")
		args = append(args, f.SiteID)
	}
	if f.CompanyID != "" {
		conds = append(conds, "t.company_id = ?")
		args = append(args, f.CompanyID)
	}
	if f.Direction != "" {
		conds = append(conds, "t.direction = ?")
		args = append(args, string(f.Direction))
	}
	if len(f.CurrentStatus) > 0 {
		conds = append(conds, "s.status_code IN ("+placeholders(len(f.CurrentStatus))+")")
		for _, c := range f.CurrentStatus {
			args = append(args, string(c))
		}
	}
	if f.VehicleID != 0 {
		conds = append(conds, "t.vehicle_id = ?")
		args = append(args, f.VehicleID)
	}
	if f.SupplierIDs != nil {
		conds = append(conds, inInts("t.supplier_id", f.SupplierIDs, &args))
	}
	if f.CustomerIDs != nil {
		conds = append(conds, inInts("t.customer_id", f.CustomerIDs, &args))
	}
	if f.TransactionDate != nil {
		conds = append(conds, "t.transaction_date = ?")
		args = append(args, f.TransactionDate.Format(dateLayout))
	}
	if f.OnlyInside {
		conds = append(conds, "t.weigh_out_at IS NULL")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func inInts(column string, ids []int64, args *[]any) string {
	if len(ids) == 0 {
		return "1 = 0"
	}
	for _, id := range ids {
		*args = append(*args, id)
	}
	return column + " IN (" + placeholders(len(ids)) + ")"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (r reader) Entries(ctx context.Context, no checkpoint.TicketNo) ([]checkpoint.LedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT seq, id, ticket_no, status_code, actor_id, logged_at
		FROM transaction_logs
		WHERE ticket_no = ?
		ORDER BY logged_at ASC, seq ASC
	`, no)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []checkpoint.LedgerEntry
	for rows.Next() {
		var (
			e      checkpoint.LedgerEntry
			code   string
			logged string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.TicketNo, &code, &e.ActorID, &logged); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Code = checkpoint.StageCode(code)
		if e.At, err = time.Parse(time.RFC3339, logged); err != nil {
			return nil, fmt.Errorf("ledger entry %d has bad timestamp %q: %w", e.Seq, logged, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	checkpoint.SortEntries(entries)
	return entries, nil
}

func (r reader) CurrentStatus(ctx context.Context, no checkpoint.TicketNo) (checkpoint.StageCode, bool, error) {
	var code string
	err := r.q.QueryRowContext(ctx,
		`SELECT status_code FROM vehicle_transaction_status WHERE ticket_no = ?`, no).Scan(&code)
	if err == sql.ErrNoRows {
		return checkpoint.StageNotStarted, false, nil
	}
	if err != nil {
		return checkpoint.StageNotStarted, false, fmt.Errorf("failed to load status: %w", err)
	}
	return checkpoint.StageCode(code), true, nil
}

func (r reader) QualityRecord(ctx context.Context, no checkpoint.TicketNo) (checkpoint.QualityRecord, bool, error) {
	var ids, values string
	err := r.q.QueryRowContext(ctx,
		`SELECT quality_range_id, quality_values FROM quality_transactions WHERE ticket_no = ?`, no).
		Scan(&ids, &values)
	if err == sql.ErrNoRows {
		return checkpoint.QualityRecord{}, false, nil
	}
	if err != nil {
		return checkpoint.QualityRecord{}, false, fmt.Errorf("failed to load quality record: %w", err)
	}
	rec, err := checkpoint.DecodeQualityRecord(no, ids, values)
	if err != nil {
		return checkpoint.QualityRecord{}, false, err
	}
	return rec, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (checkpoint.Ticket, error) {
	var (
		t         checkpoint.Ticket
		direction string
		weighIn   sql.NullString
		weighOut  sql.NullString
		txDate    string
	)
	err := row.Scan(
		&t.No, &direction, &t.SiteID, &t.CompanyID, &t.SupplierID, &t.CustomerID,
		&t.MaterialID, &t.MaterialType, &t.TransporterID, &t.VehicleID,
		&t.TPNo, &t.PONo, &t.ChallanNo, &weighIn, &weighOut, &txDate,
	)
	if err != nil {
		return t, err
	}
	t.Direction = checkpoint.Direction(direction)
	if t.WeighInAt, err = parseNullTime(weighIn); err != nil {
		return t, err
	}
	if t.WeighOutAt, err = parseNullTime(weighOut); err != nil {
		return t, err
	}
	if t.TransactionDate, err = time.ParseInLocation(dateLayout, txDate, time.Local); err != nil {
		return t, err
	}
	return t, nil
}

// =============================================================================
// TRANSACTIONAL STORE (checkpoint.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(checkpoint.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{reader: reader{q: sqlTx}, tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	reader
	tx *sql.Tx
}

// LockTicket reads the ticket. The IMMEDIATE transaction already holds
// the database write lock.
func (ts *txStore) LockTicket(ctx context.Context, no checkpoint.TicketNo) (checkpoint.Ticket, error) {
	return ts.Ticket(ctx, no)
}

func (ts *txStore) CreateTicket(ctx context.Context, t checkpoint.Ticket) (checkpoint.Ticket, error) {
	var no sql.NullInt64
	if t.No != 0 {
		no = sql.NullInt64{Int64: int64(t.No), Valid: true}
	}

	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO tickets
		(ticket_no, direction, site_id, company_id, supplier_id, customer_id,
		 material_id, material_type, transporter_id, vehicle_id,
		 tp_no, po_no, challan_no, weigh_in_at, weigh_out_at, transaction_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		no, string(t.Direction), t.SiteID, t.CompanyID, t.SupplierID, t.CustomerID,
		t.MaterialID, t.MaterialType, t.TransporterID, t.VehicleID,
		t.TPNo, t.PONo, t.ChallanNo,
		formatNullTime(t.WeighInAt), formatNullTime(t.WeighOutAt),
		t.TransactionDate.Format(dateLayout),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return checkpoint.Ticket{}, &checkpoint.StageViolationError{
				TicketNo: t.No,
				Reason:   "ticket number already used",
			}
		}
		return checkpoint.Ticket{}, fmt.Errorf("failed to insert ticket: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return checkpoint.Ticket{}, fmt.Errorf("failed to read ticket number: %w", err)
	}
	t.No = checkpoint.TicketNo(id)
	return t, nil
}

func (ts *txStore) AppendEntry(ctx context.Context, e checkpoint.LedgerEntry) (checkpoint.LedgerEntry, error) {
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO transaction_logs (id, ticket_no, status_code, actor_id, logged_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.TicketNo, string(e.Code), e.ActorID, e.At.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return checkpoint.LedgerEntry{}, &checkpoint.StageViolationError{
				TicketNo:  e.TicketNo,
				Requested: e.Code,
				Reason:    "stage already recorded",
			}
		}
		if isForeignKeyError(err) {
			return checkpoint.LedgerEntry{}, checkpoint.NotFound("ticket", e.TicketNo)
		}
		return checkpoint.LedgerEntry{}, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if e.Seq, err = res.LastInsertId(); err != nil {
		return checkpoint.LedgerEntry{}, fmt.Errorf("failed to read ledger sequence: %w", err)
	}
	return e, nil
}

func (ts *txStore) SetCurrentStatus(ctx context.Context, no checkpoint.TicketNo, code checkpoint.StageCode) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO vehicle_transaction_status (ticket_no, status_code, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(ticket_no) DO UPDATE SET
			status_code = excluded.status_code,
			updated_at = excluded.updated_at
	`, no, string(code), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	return nil
}

func (ts *txStore) SaveQualityRecord(ctx context.Context, r checkpoint.QualityRecord) error {
	ids, values := r.Encode()
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO quality_transactions (ticket_no, quality_range_id, quality_values, created_at)
		VALUES (?, ?, ?, ?)
	`, r.TicketNo, ids, values, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
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
	res, err := ts.tx.ExecContext(ctx,
		`UPDATE tickets SET weigh_out_at = ? WHERE ticket_no = ? AND weigh_out_at IS NULL`,
		at.Format(time.RFC3339), no)
	if err != nil {
		return fmt.Errorf("failed to set weigh-out: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set weigh-out: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := ts.Ticket(ctx, no); err != nil {
		return err
	}
	return &checkpoint.StageViolationError{TicketNo: no, Reason: "vehicle already weighed out"}
}

// ForceStatus overwrites the status pointer outside the ledger path.
// It exists to exercise reconciliation.
func (s *Store) ForceStatus(ctx context.Context, no checkpoint.TicketNo, code checkpoint.StageCode) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE vehicle_transaction_status SET status_code = ? WHERE ticket_no = ?`, string(code), no)
	return err
}

// Helper functions

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
