/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate master data and drive a few
	tickets through the lifecycle, so dashboards and reports have
	something to show.

AVAILABLE SCENARIOS:

	inbound-coal:     Coal from two suppliers, one ticket per lifecycle stage
	outbound-cement:  Cement dispatch to a customer, quality pending
	mixed-yard:       Both of the above on the same site

HOW SCENARIOS WORK:
 1. Upsert master data via the Seeder (suppliers, customers, vehicles,
    quality ranges, the caller's company)
 2. Open tickets through the Service
 3. Advance them with weighments, quality and weigh-out

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "inbound-coal"}

	Tickets belong to the caller's site and company. Without caller
	headers the demo caller below is used.

NOTE:

	Master data is upserted, so loading twice is safe; tickets are
	appended every time. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler.Seeder
  - store/sqlite/catalog.go, store/postgres/catalog.go: Seeder implementations
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/weighbridge/checkpoint"
	"go.uber.org/zap"
)

// Seeder writes master data. The catalog implementations of every store
// satisfy it.
type Seeder interface {
	SaveSupplier(ctx context.Context, p checkpoint.Party) error
	SaveCustomer(ctx context.Context, p checkpoint.Party) error
	SaveMaterial(ctx context.Context, id int64, name string) error
	SaveProduct(ctx context.Context, id int64, name string) error
	SaveTransporter(ctx context.Context, id int64, name string) error
	SaveVehicle(ctx context.Context, v checkpoint.Vehicle) error
	SaveCompany(ctx context.Context, c checkpoint.Company) error
	SaveQualityRange(ctx context.Context, id int64, key checkpoint.RangeKey) error
}

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScenarioResultDTO lists the tickets a scenario opened.
type ScenarioResultDTO struct {
	Scenario string  `json:"scenario"`
	Tickets  []int64 `json:"tickets"`
}

var demoCaller = checkpoint.Caller{ActorID: "demo", SiteID: "site-demo", CompanyID: "company-demo"}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "inbound-coal",
		Name:        "Inbound Coal",
		Description: "Coal deliveries at every stage: gate, gross weight, quality, tare, weighed out",
	},
	{
		ID:          "outbound-cement",
		Name:        "Outbound Cement",
		Description: "Cement dispatch waiting for its quality check after tare weight",
	},
	{
		ID:          "mixed-yard",
		Name:        "Mixed Yard",
		Description: "Inbound and outbound traffic on the same site",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	caller, err := checkpoint.CallerFrom(ctx)
	if err != nil {
		caller = demoCaller
		ctx = checkpoint.WithCaller(ctx, caller)
	}

	var load func(context.Context, checkpoint.Caller) ([]int64, error)
	switch req.ScenarioID {
	case "inbound-coal":
		load = h.loadInboundCoalScenario
	case "outbound-cement":
		load = h.loadOutboundCementScenario
	case "mixed-yard":
		load = h.loadMixedYardScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.seedMasterData(ctx, caller); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed master data", err)
		return
	}
	tickets, err := load(ctx, caller)
	if err != nil {
		h.Log.Error("scenario load failed", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.Log.Info("scenario loaded",
		zap.String("scenario", req.ScenarioID),
		zap.String("site_id", caller.SiteID),
		zap.Int("tickets", len(tickets)),
	)
	writeJSON(w, http.StatusOK, ScenarioResultDTO{Scenario: req.ScenarioID, Tickets: tickets})
}

// =============================================================================
// MASTER DATA
// =============================================================================

const (
	demoSupplierCoalfield = 1
	demoSupplierMinerals  = 2
	demoCustomerBuild     = 1
	demoMaterialCoal      = 1
	demoProductCement     = 1
	demoTransporter       = 1
	demoVehicleTruck1     = 1
	demoVehicleTruck2     = 2
	demoVehicleTruck3     = 3
)

var (
	coalfield = checkpoint.Party{ID: demoSupplierCoalfield, Name: "Eastern Coalfields", AddressLine1: "Sanctoria", AddressLine2: "Asansol"}
	minerals  = checkpoint.Party{ID: demoSupplierMinerals, Name: "Deccan Minerals", AddressLine1: "Plot 4", AddressLine2: "Nagpur"}
	buildco   = checkpoint.Party{ID: demoCustomerBuild, Name: "BuildCo Infra", AddressLine1: "MG Road", AddressLine2: "Pune"}
)

func (h *Handler) seedMasterData(ctx context.Context, caller checkpoint.Caller) error {
	s := h.Seeder
	steps := []func() error{
		func() error { return s.SaveSupplier(ctx, coalfield) },
		func() error { return s.SaveSupplier(ctx, minerals) },
		func() error { return s.SaveCustomer(ctx, buildco) },
		func() error { return s.SaveMaterial(ctx, demoMaterialCoal, "Coal") },
		func() error { return s.SaveProduct(ctx, demoProductCement, "Cement") },
		func() error { return s.SaveTransporter(ctx, demoTransporter, "Highway Logistics") },
		func() error { return s.SaveVehicle(ctx, checkpoint.Vehicle{ID: demoVehicleTruck1, Number: "WB23A1001"}) },
		func() error { return s.SaveVehicle(ctx, checkpoint.Vehicle{ID: demoVehicleTruck2, Number: "MH31B2002"}) },
		func() error { return s.SaveVehicle(ctx, checkpoint.Vehicle{ID: demoVehicleTruck3, Number: "MH12C3003"}) },
		func() error {
			return s.SaveCompany(ctx, checkpoint.Company{ID: caller.CompanyID, Name: "Warp Cement Works", Address: "Chandrapur"})
		},
	}

	var rangeID int64
	for _, supplier := range []checkpoint.Party{coalfield, minerals} {
		for _, param := range []string{"moisture", "ash", "sulphur"} {
			rangeID++
			id, key := rangeID, checkpoint.RangeKey{
				Parameter:       param,
				Direction:       checkpoint.Inbound,
				MaterialName:    "Coal",
				SupplierName:    supplier.Name,
				SupplierAddress: supplier.Address(),
			}
			steps = append(steps, func() error { return s.SaveQualityRange(ctx, id, key) })
		}
	}
	for _, param := range []string{"fineness", "setting_time"} {
		rangeID++
		id, key := rangeID, checkpoint.RangeKey{Parameter: param, Direction: checkpoint.Outbound, MaterialName: "Cement"}
		steps = append(steps, func() error { return s.SaveQualityRange(ctx, id, key) })
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// scenarioTicket opens a ticket and applies steps in order.
func (h *Handler) scenarioTicket(ctx context.Context, entry checkpoint.GateEntry, steps ...func(checkpoint.TicketNo) error) (int64, error) {
	t, err := h.Service.OpenTicket(ctx, entry)
	if err != nil {
		return 0, err
	}
	for _, step := range steps {
		if err := step(t.No); err != nil {
			return 0, fmt.Errorf("ticket %d: %w", t.No, err)
		}
	}
	return int64(t.No), nil
}

func (h *Handler) weigh(ctx context.Context) func(checkpoint.TicketNo) error {
	return func(no checkpoint.TicketNo) error {
		_, err := h.Service.RecordWeighment(ctx, no)
		return err
	}
}

func (h *Handler) quality(ctx context.Context, ms checkpoint.Measurements) func(checkpoint.TicketNo) error {
	return func(no checkpoint.TicketNo) error {
		_, err := h.Service.SubmitQuality(ctx, no, ms)
		return err
	}
}

func (h *Handler) weighOut(ctx context.Context) func(checkpoint.TicketNo) error {
	return func(no checkpoint.TicketNo) error {
		_, err := h.Service.RecordWeighOut(ctx, no)
		return err
	}
}

func coalEntry(supplier int64, vehicle int64) checkpoint.GateEntry {
	return checkpoint.GateEntry{
		Direction:     checkpoint.Inbound,
		SupplierID:    supplier,
		MaterialID:    demoMaterialCoal,
		MaterialType:  "Steam",
		TransporterID: demoTransporter,
		VehicleID:     vehicle,
		TPNo:          "TP-001",
		ChallanNo:     "CH-001",
	}
}

func coalQuality(moisture, ash string) checkpoint.Measurements {
	return checkpoint.Measurements{
		{Parameter: "moisture", Value: decimal.RequireFromString(moisture)},
		{Parameter: "ash", Value: decimal.RequireFromString(ash)},
	}
}

func (h *Handler) loadInboundCoalScenario(ctx context.Context, _ checkpoint.Caller) ([]int64, error) {
	plans := []struct {
		entry checkpoint.GateEntry
		steps []func(checkpoint.TicketNo) error
	}{
		// At the gate only.
		{coalEntry(demoSupplierCoalfield, demoVehicleTruck1), nil},
		// Gross weighed, waiting for the lab.
		{coalEntry(demoSupplierMinerals, demoVehicleTruck2), []func(checkpoint.TicketNo) error{h.weigh(ctx)}},
		// Full lifecycle.
		{coalEntry(demoSupplierCoalfield, demoVehicleTruck3), []func(checkpoint.TicketNo) error{
			h.weigh(ctx), h.quality(ctx, coalQuality("12.5", "3.1")), h.weigh(ctx), h.weighOut(ctx),
		}},
	}

	var out []int64
	for _, p := range plans {
		no, err := h.scenarioTicket(ctx, p.entry, p.steps...)
		if err != nil {
			return nil, err
		}
		out = append(out, no)
	}
	return out, nil
}

func (h *Handler) loadOutboundCementScenario(ctx context.Context, _ checkpoint.Caller) ([]int64, error) {
	entry := checkpoint.GateEntry{
		Direction:     checkpoint.Outbound,
		CustomerID:    demoCustomerBuild,
		MaterialID:    demoProductCement,
		MaterialType:  "OPC 53",
		TransporterID: demoTransporter,
		VehicleID:     demoVehicleTruck2,
		PONo:          "PO-7781",
	}
	no, err := h.scenarioTicket(ctx, entry, h.weigh(ctx))
	if err != nil {
		return nil, err
	}
	return []int64{no}, nil
}

func (h *Handler) loadMixedYardScenario(ctx context.Context, caller checkpoint.Caller) ([]int64, error) {
	in, err := h.loadInboundCoalScenario(ctx, caller)
	if err != nil {
		return nil, err
	}
	out, err := h.loadOutboundCementScenario(ctx, caller)
	if err != nil {
		return nil, err
	}
	return append(in, out...), nil
}
