package postgres

import (
	"time"

	"github.com/warp/weighbridge/checkpoint"
)

// Table names match the sqlite store so both can share a database dump.

type ticketModel struct {
	TicketNo        int64      `gorm:"column:ticket_no;primaryKey;autoIncrement"`
	Direction       string     `gorm:"column:direction;size:16;not null;index:idx_tickets_site_company,priority:3"`
	SiteID          string     `gorm:"column:site_id;size:64;not null;index:idx_tickets_site_company,priority:1"`
	CompanyID       string     `gorm:"column:company_id;size:64;not null;index:idx_tickets_site_company,priority:2"`
	SupplierID      int64      `gorm:"column:supplier_id;not null;default:0"`
	CustomerID      int64      `gorm:"column:customer_id;not null;default:0"`
	MaterialID      int64      `gorm:"column:material_id;not null;default:0"`
	MaterialType    string     `gorm:"column:material_type;size:64"`
	TransporterID   int64      `gorm:"column:transporter_id;not null;default:0"`
	VehicleID       int64      `gorm:"column:vehicle_id;not null;default:0;index"`
	TPNo            string     `gorm:"column:tp_no;size:64"`
	PONo            string     `gorm:"column:po_no;size:64"`
	ChallanNo       string     `gorm:"column:challan_no;size:64"`
	WeighInAt       *time.Time `gorm:"column:weigh_in_at"`
	WeighOutAt      *time.Time `gorm:"column:weigh_out_at"`
	TransactionDate string     `gorm:"column:transaction_date;size:10;not null;index"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
}

func (ticketModel) TableName() string { return "tickets" }

type ledgerModel struct {
	Seq        int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	ID         string    `gorm:"column:id;size:36;not null;uniqueIndex"`
	TicketNo   int64     `gorm:"column:ticket_no;not null;uniqueIndex:idx_transaction_logs_stage,priority:1"`
	StatusCode string    `gorm:"column:status_code;size:8;not null;uniqueIndex:idx_transaction_logs_stage,priority:2"`
	ActorID    string    `gorm:"column:actor_id;size:64;not null"`
	LoggedAt   time.Time `gorm:"column:logged_at;not null"`
}

func (ledgerModel) TableName() string { return "transaction_logs" }

type statusModel struct {
	TicketNo   int64     `gorm:"column:ticket_no;primaryKey;autoIncrement:false"`
	StatusCode string    `gorm:"column:status_code;size:8;not null;index"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (statusModel) TableName() string { return "vehicle_transaction_status" }

type qualityModel struct {
	TicketNo       int64     `gorm:"column:ticket_no;primaryKey;autoIncrement:false"`
	QualityRangeID string    `gorm:"column:quality_range_id;type:text;not null"`
	QualityValues  string    `gorm:"column:quality_values;type:text;not null"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (qualityModel) TableName() string { return "quality_transactions" }

// ===== MASTER DATA =====

type partyModel struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	Name         string `gorm:"column:name;size:255;not null"`
	AddressLine1 string `gorm:"column:address_line1;size:255"`
	AddressLine2 string `gorm:"column:address_line2;size:255"`
}

func (m partyModel) toParty() checkpoint.Party {
	return checkpoint.Party{ID: m.ID, Name: m.Name, AddressLine1: m.AddressLine1, AddressLine2: m.AddressLine2}
}

type supplierModel struct{ partyModel }

func (supplierModel) TableName() string { return "suppliers" }

type customerModel struct{ partyModel }

func (customerModel) TableName() string { return "customers" }

type namedModel struct {
	ID   int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	Name string `gorm:"column:name;size:255;not null"`
}

type materialModel struct{ namedModel }

func (materialModel) TableName() string { return "materials" }

type productModel struct{ namedModel }

func (productModel) TableName() string { return "products" }

type transporterModel struct{ namedModel }

func (transporterModel) TableName() string { return "transporters" }

type vehicleModel struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	VehicleNo string `gorm:"column:vehicle_no;size:32;not null;uniqueIndex"`
}

func (vehicleModel) TableName() string { return "vehicles" }

type companyModel struct {
	ID      string `gorm:"column:id;primaryKey;size:64"`
	Name    string `gorm:"column:name;size:255;not null"`
	Address string `gorm:"column:address;size:512"`
}

func (companyModel) TableName() string { return "companies" }

type qualityRangeModel struct {
	ID              int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	ParameterName   string `gorm:"column:parameter_name;size:128;not null;index:idx_quality_ranges_lookup,priority:1"`
	Direction       string `gorm:"column:direction;size:16;not null;index:idx_quality_ranges_lookup,priority:2"`
	MaterialName    string `gorm:"column:material_name;size:255;not null;index:idx_quality_ranges_lookup,priority:3"`
	SupplierName    string `gorm:"column:supplier_name;size:255"`
	SupplierAddress string `gorm:"column:supplier_address;size:512"`
}

func (qualityRangeModel) TableName() string { return "quality_ranges" }

func allModels() []any {
	return []any{
		&ticketModel{}, &ledgerModel{}, &statusModel{}, &qualityModel{},
		&supplierModel{}, &customerModel{}, &materialModel{}, &productModel{},
		&transporterModel{}, &vehicleModel{}, &companyModel{}, &qualityRangeModel{},
	}
}

// ===== CONVERSIONS =====

const dateLayout = "2006-01-02"

func toTicketModel(t checkpoint.Ticket) ticketModel {
	return ticketModel{
		TicketNo:        int64(t.No),
		Direction:       string(t.Direction),
		SiteID:          t.SiteID,
		CompanyID:       t.CompanyID,
		SupplierID:      t.SupplierID,
		CustomerID:      t.CustomerID,
		MaterialID:      t.MaterialID,
		MaterialType:    t.MaterialType,
		TransporterID:   t.TransporterID,
		VehicleID:       t.VehicleID,
		TPNo:            t.TPNo,
		PONo:            t.PONo,
		ChallanNo:       t.ChallanNo,
		WeighInAt:       t.WeighInAt,
		WeighOutAt:      t.WeighOutAt,
		TransactionDate: t.TransactionDate.Format(dateLayout),
	}
}

func (m ticketModel) toTicket() (checkpoint.Ticket, error) {
	date, err := time.ParseInLocation(dateLayout, m.TransactionDate, time.Local)
	if err != nil {
		return checkpoint.Ticket{}, err
	}
	return checkpoint.Ticket{
		No:              checkpoint.TicketNo(m.TicketNo),
		Direction:       checkpoint.Direction(m.Direction),
		SiteID:          m.SiteID,
		CompanyID:       m.CompanyID,
		SupplierID:      m.SupplierID,
		CustomerID:      m.CustomerID,
		MaterialID:      m.MaterialID,
		MaterialType:    m.MaterialType,
		TransporterID:   m.TransporterID,
		VehicleID:       m.VehicleID,
		TPNo:            m.TPNo,
		PONo:            m.PONo,
		ChallanNo:       m.ChallanNo,
		WeighInAt:       m.WeighInAt,
		WeighOutAt:      m.WeighOutAt,
		TransactionDate: date,
	}, nil
}

func (m ledgerModel) toEntry() checkpoint.LedgerEntry {
	return checkpoint.LedgerEntry{
		ID:       m.ID,
		Seq:      m.Seq,
		TicketNo: checkpoint.TicketNo(m.TicketNo),
		Code:     checkpoint.StageCode(m.StatusCode),
		ActorID:  m.ActorID,
		At:       m.LoggedAt,
	}
}
