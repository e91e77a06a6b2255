/*
store.go - Persistence and catalog contracts consumed by the engine

PURPOSE:
  Defines the narrow interfaces between the lifecycle logic and storage.
  The engine never talks SQL; it reads through Store, writes through a
  Tx handed out by TxStore.WithTx, and resolves names through Catalog.

KEY INTERFACES:
  Store:    Read-only ticket, ledger, status and quality-record queries
  Tx:       The write surface, only reachable inside WithTx
  TxStore:  Store + WithTx (one transaction, all or nothing)
  Catalog:  Master-data lookups (supplier, customer, material, ...)

APPEND-ONLY CONTRACT:
  Tx.AppendEntry is the only ledger write. There is no update or delete
  for ledger entries. The current-status pointer has a setter, but the
  engine only calls it next to AppendEntry in the same Tx (and from
  Ledger.Reconcile, which rewrites it from the ledger).

LOCKING:
  Tx.LockTicket must serialize concurrent transactions on one ticket:
  row lock (postgres), immediate transaction (sqlite) or store lock
  (memory). Reads made through the Tx after LockTicket see every
  committed write for that ticket.

ERRORS:
  Missing rows come back as NotFoundError. A duplicate ledger stage or
  duplicate quality record comes back as a StageViolationError. Any other
  error is treated as a persistence failure.

IMPLEMENTATIONS:
  - store/memory:   in-memory, snapshot rollback (tests, dev)
  - store/sqlite:   database/sql + go-sqlite3
  - store/postgres: gorm, SELECT ... FOR UPDATE

SEE ALSO:
  - ledger.go: the single write path for stages
*/
package checkpoint

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Read side
// =============================================================================

type Store interface {
	// Ticket returns the ticket or a NotFoundError.
	Ticket(ctx context.Context, no TicketNo) (Ticket, error)

	// ListTickets returns tickets matching the filter.
	ListTickets(ctx context.Context, f TicketFilter) ([]Ticket, error)

	// CountTickets counts tickets matching the filter.
	CountTickets(ctx context.Context, f TicketFilter) (int, error)

	// Entries returns the ledger for a ticket ordered by (At, Seq).
	Entries(ctx context.Context, no TicketNo) ([]LedgerEntry, error)

	// CurrentStatus returns the pointer; false when no row exists.
	CurrentStatus(ctx context.Context, no TicketNo) (StageCode, bool, error)

	// QualityRecord returns the stored record; false when none exists.
	QualityRecord(ctx context.Context, no TicketNo) (QualityRecord, bool, error)
}

// =============================================================================
// TX - Write side, only valid inside WithTx
// =============================================================================

type Tx interface {
	Store

	// LockTicket loads the ticket and holds it for the rest of the
	// transaction.
	LockTicket(ctx context.Context, no TicketNo) (Ticket, error)

	// CreateTicket inserts t and returns it with No assigned.
	CreateTicket(ctx context.Context, t Ticket) (Ticket, error)

	// AppendEntry appends to the ledger and returns the entry with Seq set.
	AppendEntry(ctx context.Context, e LedgerEntry) (LedgerEntry, error)

	// SetCurrentStatus upserts the pointer row.
	SetCurrentStatus(ctx context.Context, no TicketNo, code StageCode) error

	// SaveQualityRecord inserts the record. At most one per ticket.
	SaveQualityRecord(ctx context.Context, r QualityRecord) error

	// SetWeighOut sets WeighOutAt. Only valid while it is unset.
	SetWeighOut(ctx context.Context, no TicketNo, at time.Time) error
}

// TxStore runs fn inside one storage transaction. If fn returns an
// error the transaction is rolled back and nothing fn wrote is visible.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// =============================================================================
// CATALOG - Master data (external collaborator)
// =============================================================================

// Party is a supplier or a customer.
type Party struct {
	ID           int64
	Name         string
	AddressLine1 string
	AddressLine2 string
}

// Address joins both address lines the way dashboards show them.
func (p Party) Address() string {
	return p.AddressLine1 + "," + p.AddressLine2
}

type Vehicle struct {
	ID     int64
	Number string
}

type Company struct {
	ID      string
	Name    string
	Address string
}

// RangeKey identifies a quality range entry. Inbound keys carry the
// supplier name and address; outbound keys only the product name.
type RangeKey struct {
	Parameter       string
	Direction       Direction
	MaterialName    string // material (inbound) or product (outbound)
	SupplierName    string
	SupplierAddress string
}

type QualityRange struct {
	ID        int64
	Parameter string
}

type Catalog interface {
	Supplier(ctx context.Context, id int64) (Party, error)
	Customer(ctx context.Context, id int64) (Party, error)
	Material(ctx context.Context, id int64) (string, error)
	Product(ctx context.Context, id int64) (string, error)
	Transporter(ctx context.Context, id int64) (string, error)
	Vehicle(ctx context.Context, id int64) (Vehicle, error)
	VehicleByNumber(ctx context.Context, number string) (Vehicle, error)
	Company(ctx context.Context, id string) (Company, error)

	// SearchParties returns suppliers and customers whose name or first
	// address line contains text.
	SearchParties(ctx context.Context, text string) (suppliers, customers []Party, err error)

	// QualityRangeID resolves a key to a range id, or NotFoundError.
	QualityRangeID(ctx context.Context, key RangeKey) (int64, error)

	// QualityRanges returns the ranges for the given ids. Unknown ids are
	// absent from the map.
	QualityRanges(ctx context.Context, ids []int64) (map[int64]QualityRange, error)
}
