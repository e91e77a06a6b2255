package checkpoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/weighbridge/checkpoint"
	"github.com/warp/weighbridge/store/memory"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	supplierCoalfield = 1
	supplierMinerals  = 2
	customerBuild     = 1
	materialCoal      = 1
	productCement     = 1
	transporterRoad   = 1
	vehicleTruck1     = 1
	vehicleTruck2     = 2

	rangeMoisture = 10
	rangeAsh      = 11
	rangeFineness = 20
)

type fixture struct {
	store     *memory.Store
	catalog   *memory.Catalog
	service   *checkpoint.Service
	projector *checkpoint.Projector
	ledger    *checkpoint.DefaultLedger
	compiler  *checkpoint.Compiler

	ctx context.Context
	now time.Time
}

var operator = checkpoint.Caller{ActorID: "op-1", SiteID: "site-1", CompanyID: "company-1"}

func newFixture(t *testing.T) *fixture {
	log := zaptest.NewLogger(t)
	f := &fixture{
		store:   memory.NewStore(),
		catalog: memory.NewCatalog(),
		ctx:     checkpoint.WithCaller(context.Background(), operator),
		now:     time.Date(2026, time.March, 10, 9, 30, 45, 0, time.Local),
	}
	seedCatalog(f.catalog)

	f.compiler = checkpoint.NewCompiler(f.catalog, true, log)
	f.service = checkpoint.NewService(f.store, f.catalog, f.compiler, log)
	f.service.Now = func() time.Time { return f.now }
	f.projector = checkpoint.NewProjector(f.store, f.catalog, f.compiler, log)
	f.ledger = checkpoint.NewLedger(f.store, log)
	return f
}

func seedCatalog(c *memory.Catalog) {
	c.AddSupplier(checkpoint.Party{ID: supplierCoalfield, Name: "Eastern Coalfields", AddressLine1: "Sanctoria", AddressLine2: "Asansol"})
	c.AddSupplier(checkpoint.Party{ID: supplierMinerals, Name: "Deccan Minerals", AddressLine1: "Plot 4", AddressLine2: "Nagpur"})
	c.AddCustomer(checkpoint.Party{ID: customerBuild, Name: "BuildCo Infra", AddressLine1: "MG Road", AddressLine2: "Pune"})
	c.AddMaterial(materialCoal, "Coal")
	c.AddProduct(productCement, "Cement")
	c.AddTransporter(transporterRoad, "Highway Logistics")
	c.AddVehicle(checkpoint.Vehicle{ID: vehicleTruck1, Number: "WB23A1001"})
	c.AddVehicle(checkpoint.Vehicle{ID: vehicleTruck2, Number: "MH31B2002"})
	c.AddCompany(checkpoint.Company{ID: "company-1", Name: "Warp Cement Works", Address: "Chandrapur"})

	coal := checkpoint.RangeKey{
		Direction:       checkpoint.Inbound,
		MaterialName:    "Coal",
		SupplierName:    "Eastern Coalfields",
		SupplierAddress: "Sanctoria,Asansol",
	}
	coal.Parameter = "moisture"
	c.AddQualityRange(rangeMoisture, coal)
	coal.Parameter = "ash"
	c.AddQualityRange(rangeAsh, coal)

	c.AddQualityRange(rangeFineness, checkpoint.RangeKey{
		Parameter:    "fineness",
		Direction:    checkpoint.Outbound,
		MaterialName: "Cement",
	})
}

func inbound(supplier, vehicle int64) checkpoint.GateEntry {
	return checkpoint.GateEntry{
		Direction:     checkpoint.Inbound,
		SupplierID:    supplier,
		MaterialID:    materialCoal,
		MaterialType:  "Steam",
		TransporterID: transporterRoad,
		VehicleID:     vehicle,
		TPNo:          "TP-1",
		ChallanNo:     "CH-1",
	}
}

func outbound(vehicle int64) checkpoint.GateEntry {
	return checkpoint.GateEntry{
		Direction:  checkpoint.Outbound,
		CustomerID: customerBuild,
		MaterialID: productCement,
		VehicleID:  vehicle,
		PONo:       "PO-1",
	}
}

// openWeighed opens a ticket and records its first weighment.
func (f *fixture) openWeighed(t *testing.T, in checkpoint.GateEntry) checkpoint.Ticket {
	t.Helper()
	tk, err := f.service.OpenTicket(f.ctx, in)
	require.NoError(t, err)
	_, err = f.service.RecordWeighment(f.ctx, tk.No)
	require.NoError(t, err)
	return tk
}

func measurements(pairs ...string) checkpoint.Measurements {
	ms := make(checkpoint.Measurements, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		ms = append(ms, checkpoint.Measurement{Parameter: pairs[i], Value: decimal.RequireFromString(pairs[i+1])})
	}
	return ms
}

// asStrings flattens measurements to comparable name/value pairs.
func asStrings(ms checkpoint.Measurements) [][2]string {
	out := make([][2]string, len(ms))
	for i, m := range ms {
		out[i] = [2]string{m.Parameter, m.Value.String()}
	}
	return out
}

func ticketNos(views []checkpoint.TicketView) []checkpoint.TicketNo {
	out := make([]checkpoint.TicketNo, len(views))
	for i, v := range views {
		out[i] = v.TicketNo
	}
	return out
}
