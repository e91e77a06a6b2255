/*
projector.go - Dashboards, reports and searches rebuilt from the ledger

PURPOSE:
  Read-only views over tickets. Listings pre-filter on the current-status
  pointer for speed, then confirm the stage against the ledger, so a stale
  pointer can hide a ticket for a moment but never list a wrong one.

FAILURE POLICY:
  Listing scans (Pending, Completed, searches returning many tickets):
    a catalog NotFound on one ticket is logged at Warn and the ticket is
    skipped. Any other error aborts the listing.
  Single-ticket views (Report, SearchByTicketNo):
    every error is returned.

SCOPE:
  Every view is restricted to the caller's site and company. A ticket
  outside that scope is reported as not found.

SEE ALSO:
  - stage.go:   EligibleForQualityCheck decides "pending"
  - quality.go: Decompile for report parameters
*/
package checkpoint

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ViewTimeLayout is how views print timestamps (dd-MM-yyyy HH:mm:ss).
const ViewTimeLayout = "02-01-2006 15:04:05"

// SearchDateLayout is the calendar date accepted by SearchByDate.
const SearchDateLayout = "2006-01-02"

// =============================================================================
// VIEWS
// =============================================================================

// TicketView is one dashboard or search row.
type TicketView struct {
	TicketNo            TicketNo
	TPNo                string
	PONo                string
	ChallanNo           string
	Direction           Direction
	CounterpartyName    string
	CounterpartyAddress string
	MaterialName        string
	MaterialType        string
	TransporterName     string
	VehicleNo           string
	In                  string
	Out                 string
	Date                string
	Stage               StageCode
}

// ReportView is the single-ticket quality report.
type ReportView struct {
	TicketNo            TicketNo
	Date                string
	Direction           Direction
	VehicleNo           string
	MaterialOrProduct   string
	MaterialType        string
	CounterpartyName    string
	CounterpartyAddress string
	CompanyName         string
	CompanyAddress      string
	QualityParameters   Measurements
}

// QualityParameterMap is the report's parameters keyed by name.
func (r ReportView) QualityParameterMap() map[string]decimal.Decimal {
	return r.QualityParameters.Map()
}

// =============================================================================
// PROJECTOR
// =============================================================================

type Projector struct {
	Store    Store
	Catalog  Catalog
	Compiler *Compiler
	Log      *zap.Logger
}

func NewProjector(store Store, catalog Catalog, compiler *Compiler, log *zap.Logger) *Projector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Projector{Store: store, Catalog: catalog, Compiler: compiler, Log: log}
}

// Pending lists tickets waiting for a quality check in one direction,
// oldest transaction date first.
func (p *Projector) Pending(ctx context.Context, d Direction) ([]TicketView, error) {
	if !d.Valid() {
		return nil, invalidArgument("unknown direction %q", d)
	}
	caller, err := CallerFrom(ctx)
	if err != nil {
		return nil, err
	}
	tickets, err := p.Store.ListTickets(ctx, TicketFilter{
		SiteID:        caller.SiteID,
		CompanyID:     caller.CompanyID,
		Direction:     d,
		CurrentStatus: []StageCode{WeighmentStage(d)},
	})
	if err != nil {
		return nil, persistence("list pending", err)
	}
	return p.project(ctx, tickets, EligibleForQualityCheck)
}

// PendingAll lists pending tickets of both directions, inbound first.
func (p *Projector) PendingAll(ctx context.Context) ([]TicketView, error) {
	var out []TicketView
	for _, d := range []Direction{Inbound, Outbound} {
		views, err := p.Pending(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, views...)
	}
	return out, nil
}

// Completed lists tickets whose quality check is recorded. An empty
// direction means both.
func (p *Projector) Completed(ctx context.Context, d Direction) ([]TicketView, error) {
	if d != "" && !d.Valid() {
		return nil, invalidArgument("unknown direction %q", d)
	}
	caller, err := CallerFrom(ctx)
	if err != nil {
		return nil, err
	}
	// The pointer moves past QCT once the second weighment lands, so the
	// filter is on the ledger alone.
	tickets, err := p.Store.ListTickets(ctx, TicketFilter{
		SiteID:    caller.SiteID,
		CompanyID: caller.CompanyID,
		Direction: d,
	})
	if err != nil {
		return nil, persistence("list completed", err)
	}
	return p.project(ctx, tickets, func(_ Ticket, entries []LedgerEntry) bool {
		return HasStage(entries, StageQualityCheck)
	})
}

// InsideCount counts vehicles that have weighed in but not out.
func (p *Projector) InsideCount(ctx context.Context) (int, error) {
	caller, err := CallerFrom(ctx)
	if err != nil {
		return 0, err
	}
	n, err := p.Store.CountTickets(ctx, TicketFilter{
		SiteID:     caller.SiteID,
		CompanyID:  caller.CompanyID,
		OnlyInside: true,
	})
	if err != nil {
		return 0, persistence("count inside", err)
	}
	return n, nil
}

// Report builds the quality report for one ticket. Missing catalog rows
// fail the report.
func (p *Projector) Report(ctx context.Context, no TicketNo) (ReportView, error) {
	caller, err := CallerFrom(ctx)
	if err != nil {
		return ReportView{}, err
	}
	t, err := p.ownedTicket(ctx, caller, no)
	if err != nil {
		return ReportView{}, err
	}

	vehicle, err := p.Catalog.Vehicle(ctx, t.VehicleID)
	if err != nil {
		return ReportView{}, persistence("report vehicle", err)
	}
	party, material, err := p.counterpartyAndMaterial(ctx, t)
	if err != nil {
		return ReportView{}, persistence("report catalog", err)
	}
	company, err := p.Catalog.Company(ctx, t.CompanyID)
	if err != nil {
		return ReportView{}, persistence("report company", err)
	}

	view := ReportView{
		TicketNo:            t.No,
		Date:                formatDate(t.TransactionDate),
		Direction:           t.Direction,
		VehicleNo:           vehicle.Number,
		MaterialOrProduct:   material,
		MaterialType:        t.MaterialType,
		CounterpartyName:    party.Name,
		CounterpartyAddress: party.AddressLine1,
		CompanyName:         company.Name,
		CompanyAddress:      company.Address,
	}

	rec, ok, err := p.Store.QualityRecord(ctx, no)
	if err != nil {
		return ReportView{}, persistence("load quality record", err)
	}
	if ok {
		view.QualityParameters, err = p.Compiler.Decompile(ctx, rec)
		if err != nil {
			return ReportView{}, persistence("decompile quality record", err)
		}
	}
	return view, nil
}

// =============================================================================
// SEARCH
// =============================================================================

// SearchByTicketNo finds one ticket for the quality desk. A ticket whose
// quality is already recorded is a StageViolationError.
func (p *Projector) SearchByTicketNo(ctx context.Context, no TicketNo) (TicketView, error) {
	caller, err := CallerFrom(ctx)
	if err != nil {
		return TicketView{}, err
	}
	t, err := p.ownedTicket(ctx, caller, no)
	if err != nil {
		return TicketView{}, err
	}
	entries, err := p.Store.Entries(ctx, no)
	if err != nil {
		return TicketView{}, persistence("load ledger", err)
	}
	if HasStage(entries, StageQualityCheck) {
		return TicketView{}, &StageViolationError{
			TicketNo: no,
			Current:  CurrentStage(entries),
			Reason:   "quality already recorded",
		}
	}
	view, err := p.view(ctx, t, entries)
	if err != nil {
		return TicketView{}, persistence("search ticket", err)
	}
	return view, nil
}

// SearchByDate lists the caller's tickets with the given transaction
// date ("2006-01-02").
func (p *Projector) SearchByDate(ctx context.Context, date string) ([]TicketView, error) {
	day, err := time.Parse(SearchDateLayout, strings.TrimSpace(date))
	if err != nil {
		return nil, invalidArgument("date %q is not YYYY-MM-DD", date)
	}
	caller, err := CallerFrom(ctx)
	if err != nil {
		return nil, err
	}
	tickets, err := p.Store.ListTickets(ctx, TicketFilter{
		SiteID:          caller.SiteID,
		CompanyID:       caller.CompanyID,
		TransactionDate: &day,
	})
	if err != nil {
		return nil, persistence("search by date", err)
	}
	return p.project(ctx, tickets, nil)
}

// SearchByVehicleNo lists the vehicle's tickets still waiting for a
// quality check. An unknown vehicle number yields no rows.
func (p *Projector) SearchByVehicleNo(ctx context.Context, number string) ([]TicketView, error) {
	caller, err := CallerFrom(ctx)
	if err != nil {
		return nil, err
	}
	vehicle, err := p.Catalog.VehicleByNumber(ctx, strings.TrimSpace(number))
	if errors.Is(err, ErrNotFound) {
		return []TicketView{}, nil
	}
	if err != nil {
		return nil, persistence("resolve vehicle", err)
	}
	tickets, err := p.Store.ListTickets(ctx, TicketFilter{
		SiteID:    caller.SiteID,
		CompanyID: caller.CompanyID,
		VehicleID: vehicle.ID,
	})
	if err != nil {
		return nil, persistence("search by vehicle", err)
	}
	return p.project(ctx, tickets, withoutQuality)
}

// SearchByCounterparty matches text against supplier and customer names
// and first address lines, then lists their tickets still waiting for a
// quality check.
func (p *Projector) SearchByCounterparty(ctx context.Context, text string) ([]TicketView, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalidArgument("search text is empty")
	}
	caller, err := CallerFrom(ctx)
	if err != nil {
		return nil, err
	}
	suppliers, customers, err := p.Catalog.SearchParties(ctx, text)
	if err != nil {
		return nil, persistence("search parties", err)
	}

	var out []TicketView
	if len(suppliers) > 0 {
		tickets, err := p.Store.ListTickets(ctx, TicketFilter{
			SiteID:      caller.SiteID,
			CompanyID:   caller.CompanyID,
			Direction:   Inbound,
			SupplierIDs: partyIDs(suppliers),
		})
		if err != nil {
			return nil, persistence("search by supplier", err)
		}
		views, err := p.project(ctx, tickets, withoutQuality)
		if err != nil {
			return nil, err
		}
		out = append(out, views...)
	}
	if len(customers) > 0 {
		tickets, err := p.Store.ListTickets(ctx, TicketFilter{
			SiteID:      caller.SiteID,
			CompanyID:   caller.CompanyID,
			Direction:   Outbound,
			CustomerIDs: partyIDs(customers),
		})
		if err != nil {
			return nil, persistence("search by customer", err)
		}
		views, err := p.project(ctx, tickets, withoutQuality)
		if err != nil {
			return nil, err
		}
		out = append(out, views...)
	}
	if out == nil {
		out = []TicketView{}
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func withoutQuality(_ Ticket, entries []LedgerEntry) bool {
	return !HasStage(entries, StageQualityCheck)
}

func partyIDs(parties []Party) []int64 {
	ids := make([]int64, len(parties))
	for i, p := range parties {
		ids[i] = p.ID
	}
	return ids
}

// Ticket returns the raw ticket when the caller may see it.
func (p *Projector) Ticket(ctx context.Context, no TicketNo) (Ticket, error) {
	caller, err := CallerFrom(ctx)
	if err != nil {
		return Ticket{}, err
	}
	return p.ownedTicket(ctx, caller, no)
}

func (p *Projector) ownedTicket(ctx context.Context, caller Caller, no TicketNo) (Ticket, error) {
	t, err := p.Store.Ticket(ctx, no)
	if err != nil {
		return Ticket{}, persistence("load ticket", err)
	}
	if !caller.owns(t) {
		return Ticket{}, NotFound("ticket", no)
	}
	return t, nil
}

// project loads each ticket's ledger, keeps those accepted by keep (all
// when keep is nil) and resolves their catalog names. Catalog NotFound
// drops the ticket with a warning.
func (p *Projector) project(ctx context.Context, tickets []Ticket, keep func(Ticket, []LedgerEntry) bool) ([]TicketView, error) {
	out := make([]TicketView, 0, len(tickets))
	for _, t := range tickets {
		entries, err := p.Store.Entries(ctx, t.No)
		if err != nil {
			return nil, persistence("load ledger", err)
		}
		if keep != nil && !keep(t, entries) {
			continue
		}
		view, err := p.view(ctx, t, entries)
		if errors.Is(err, ErrNotFound) {
			p.Log.Warn("skipping ticket with unresolved catalog reference",
				zap.Int64("ticket_no", int64(t.No)),
				zap.Error(err),
			)
			continue
		}
		if err != nil {
			return nil, persistence("project ticket", err)
		}
		out = append(out, view)
	}
	return out, nil
}

func (p *Projector) view(ctx context.Context, t Ticket, entries []LedgerEntry) (TicketView, error) {
	party, material, err := p.counterpartyAndMaterial(ctx, t)
	if err != nil {
		return TicketView{}, err
	}
	vehicle, err := p.Catalog.Vehicle(ctx, t.VehicleID)
	if err != nil {
		return TicketView{}, err
	}
	var transporter string
	if t.TransporterID != 0 {
		transporter, err = p.Catalog.Transporter(ctx, t.TransporterID)
		if err != nil {
			return TicketView{}, err
		}
	}

	return TicketView{
		TicketNo:            t.No,
		TPNo:                t.TPNo,
		PONo:                t.PONo,
		ChallanNo:           t.ChallanNo,
		Direction:           t.Direction,
		CounterpartyName:    party.Name,
		CounterpartyAddress: party.Address(),
		MaterialName:        material,
		MaterialType:        t.MaterialType,
		TransporterName:     transporter,
		VehicleNo:           vehicle.Number,
		In:                  formatTime(t.WeighInAt),
		Out:                 formatTime(t.WeighOutAt),
		Date:                formatDate(t.TransactionDate),
		Stage:               CurrentStage(entries),
	}, nil
}

// counterpartyAndMaterial resolves supplier + material for inbound and
// customer + product for outbound tickets.
func (p *Projector) counterpartyAndMaterial(ctx context.Context, t Ticket) (Party, string, error) {
	var (
		party    Party
		material string
		err      error
	)
	switch t.Direction {
	case Inbound:
		if party, err = p.Catalog.Supplier(ctx, t.SupplierID); err != nil {
			return Party{}, "", err
		}
		material, err = p.Catalog.Material(ctx, t.MaterialID)
	case Outbound:
		if party, err = p.Catalog.Customer(ctx, t.CustomerID); err != nil {
			return Party{}, "", err
		}
		material, err = p.Catalog.Product(ctx, t.MaterialID)
	default:
		return Party{}, "", invalidArgument("ticket %d has no direction", t.No)
	}
	if err != nil {
		return Party{}, "", err
	}
	return party, material, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return Minute(*t).Format(ViewTimeLayout)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02-01-2006")
}
