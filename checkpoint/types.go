/*
Package checkpoint provides the ticket lifecycle engine for the weighbridge.

PURPOSE:
  A vehicle entering the facility opens a ticket. The ticket then passes a
  fixed, direction-specific sequence of checkpoints (weighment, quality
  check, second weighment) before the vehicle weighs out. This package
  records those checkpoints, decides which one is legal next, and projects
  dashboards and reports from the recorded history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Ticket:        One vehicle's gate-to-gate journey
  - Direction:     Inbound (supplier delivers) or Outbound (customer collects)
  - StageCode:     Checkpoint marker recorded against a ticket (GWT/TWT/QCT)
  - LedgerEntry:   Immutable record that a ticket reached a stage
  - Measurement:   One named quality value

DESIGN PRINCIPLES:
  1. The ledger is the source of truth for "has stage X happened"
  2. The current-status pointer is a cache written only with the ledger
  3. Catalog entities are referenced by id, never embedded
  4. Measurement values use decimal.Decimal so reports echo what was typed

SEE ALSO:
  - stage.go:     Stage resolution and transition rules
  - ledger.go:    The single write path for stages
  - quality.go:   Quality record compile/decompile
  - projector.go: Dashboards, reports and searches
*/
package checkpoint

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// TicketNo is the monotonically assigned ticket number.
type TicketNo int64

type Direction string

const (
	Inbound  Direction = "Inbound"
	Outbound Direction = "Outbound"
)

// ParseDirection accepts any casing of "inbound" / "outbound".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inbound":
		return Inbound, nil
	case "outbound":
		return Outbound, nil
	}
	return "", invalidArgument("unknown direction %q", s)
}

func (d Direction) Valid() bool { return d == Inbound || d == Outbound }

// =============================================================================
// STAGE CODES
// =============================================================================

type StageCode string

const (
	// StageNotStarted is returned for a ticket with no ledger entries.
	StageNotStarted StageCode = ""

	StageGrossWeight  StageCode = "GWT"
	StageTareWeight   StageCode = "TWT"
	StageQualityCheck StageCode = "QCT"
)

func (c StageCode) Known() bool {
	return c == StageGrossWeight || c == StageTareWeight || c == StageQualityCheck
}

func (c StageCode) String() string {
	if c == StageNotStarted {
		return "not-started"
	}
	return string(c)
}

// =============================================================================
// TICKET
// =============================================================================

// Ticket is created once at gate entry. WeighOutAt is set exactly once,
// later. Direction never changes.
type Ticket struct {
	No        TicketNo
	Direction Direction
	SiteID    string
	CompanyID string

	// Counterparty: SupplierID for inbound, CustomerID for outbound.
	SupplierID int64
	CustomerID int64

	// MaterialID is a material id for inbound and a product id for outbound.
	MaterialID    int64
	MaterialType  string
	TransporterID int64
	VehicleID     int64

	TPNo      string
	PONo      string
	ChallanNo string

	WeighInAt       *time.Time
	WeighOutAt      *time.Time
	TransactionDate time.Time
}

// CounterpartyID returns the supplier id for inbound tickets and the
// customer id for outbound ones.
func (t Ticket) CounterpartyID() int64 {
	if t.Direction == Inbound {
		return t.SupplierID
	}
	return t.CustomerID
}

// GateEntry is the input for opening a ticket.
type GateEntry struct {
	Direction     Direction
	SupplierID    int64
	CustomerID    int64
	MaterialID    int64
	MaterialType  string
	TransporterID int64
	VehicleID     int64
	TPNo          string
	PONo          string
	ChallanNo     string
}

// TicketFilter narrows ListTickets. Zero values mean "any".
type TicketFilter struct {
	SiteID    string
	CompanyID string
	Direction Direction

	// CurrentStatus restricts by the denormalized pointer.
	CurrentStatus []StageCode

	VehicleID       int64
	SupplierIDs     []int64
	CustomerIDs     []int64
	TransactionDate *time.Time
	OnlyInside      bool // WeighOutAt IS NULL
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

// LedgerEntry is immutable once written.
type LedgerEntry struct {
	// ID is a correlation id assigned when the entry is built.
	ID string

	// Seq is assigned by the store and orders entries sharing a minute.
	Seq      int64
	TicketNo TicketNo
	Code     StageCode
	ActorID  string
	At       time.Time
}

// Before orders entries by time, then insertion sequence.
func (e LedgerEntry) Before(o LedgerEntry) bool {
	if !e.At.Equal(o.At) {
		return e.At.Before(o.At)
	}
	return e.Seq < o.Seq
}

// Minute truncates t to whole minutes. Every stored timestamp goes
// through here; reports must reproduce the same truncation.
func Minute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// =============================================================================
// MEASUREMENTS
// =============================================================================

// Measurement is one named quality value. Submissions are ordered
// slices so the persisted order is the submission order.
type Measurement struct {
	Parameter string
	Value     decimal.Decimal
}

type Measurements []Measurement

// Map flattens the measurements. Later duplicates win.
func (ms Measurements) Map() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(ms))
	for _, m := range ms {
		out[m.Parameter] = m.Value
	}
	return out
}
