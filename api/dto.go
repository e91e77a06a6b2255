/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the checkpoint model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

QUALITY PARAMETERS:
  Measurements travel as a JSON object, {"moisture": 12.5, "ash": 3.1}.
  Key order is significant (it is the persisted order), so
  MeasurementsJSON decodes the object token by token instead of into a
  map, and encodes it back in slice order.

VALIDATION:
  Validation is done in the checkpoint package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/weighbridge/checkpoint"
)

// =============================================================================
// REQUESTS
// =============================================================================

// OpenTicketRequest is the gate entry form.
type OpenTicketRequest struct {
	Direction     string `json:"direction"`
	SupplierID    int64  `json:"supplier_id,omitempty"`
	CustomerID    int64  `json:"customer_id,omitempty"`
	MaterialID    int64  `json:"material_id"`
	MaterialType  string `json:"material_type,omitempty"`
	TransporterID int64  `json:"transporter_id,omitempty"`
	VehicleID     int64  `json:"vehicle_id"`
	TPNo          string `json:"tp_no,omitempty"`
	PONo          string `json:"po_no,omitempty"`
	ChallanNo     string `json:"challan_no,omitempty"`
}

func (r OpenTicketRequest) toGateEntry() (checkpoint.GateEntry, error) {
	d, err := checkpoint.ParseDirection(r.Direction)
	if err != nil {
		return checkpoint.GateEntry{}, err
	}
	return checkpoint.GateEntry{
		Direction:     d,
		SupplierID:    r.SupplierID,
		CustomerID:    r.CustomerID,
		MaterialID:    r.MaterialID,
		MaterialType:  r.MaterialType,
		TransporterID: r.TransporterID,
		VehicleID:     r.VehicleID,
		TPNo:          r.TPNo,
		PONo:          r.PONo,
		ChallanNo:     r.ChallanNo,
	}, nil
}

// SubmitQualityRequest carries the measured parameters.
type SubmitQualityRequest struct {
	Measurements MeasurementsJSON `json:"measurements"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type TicketDTO struct {
	TicketNo        int64  `json:"ticket_no"`
	Direction       string `json:"direction"`
	SupplierID      int64  `json:"supplier_id,omitempty"`
	CustomerID      int64  `json:"customer_id,omitempty"`
	MaterialID      int64  `json:"material_id"`
	MaterialType    string `json:"material_type,omitempty"`
	TransporterID   int64  `json:"transporter_id,omitempty"`
	VehicleID       int64  `json:"vehicle_id"`
	TPNo            string `json:"tp_no,omitempty"`
	PONo            string `json:"po_no,omitempty"`
	ChallanNo       string `json:"challan_no,omitempty"`
	WeighInAt       string `json:"weigh_in_at,omitempty"`
	WeighOutAt      string `json:"weigh_out_at,omitempty"`
	TransactionDate string `json:"transaction_date"`
}

func toTicketDTO(t checkpoint.Ticket) TicketDTO {
	dto := TicketDTO{
		TicketNo:        int64(t.No),
		Direction:       string(t.Direction),
		SupplierID:      t.SupplierID,
		CustomerID:      t.CustomerID,
		MaterialID:      t.MaterialID,
		MaterialType:    t.MaterialType,
		TransporterID:   t.TransporterID,
		VehicleID:       t.VehicleID,
		TPNo:            t.TPNo,
		PONo:            t.PONo,
		ChallanNo:       t.ChallanNo,
		TransactionDate: t.TransactionDate.Format(checkpoint.SearchDateLayout),
	}
	if t.WeighInAt != nil {
		dto.WeighInAt = t.WeighInAt.Format(checkpoint.ViewTimeLayout)
	}
	if t.WeighOutAt != nil {
		dto.WeighOutAt = t.WeighOutAt.Format(checkpoint.ViewTimeLayout)
	}
	return dto
}

type LedgerEntryDTO struct {
	ID       string `json:"id"`
	Seq      int64  `json:"seq"`
	TicketNo int64  `json:"ticket_no"`
	Code     string `json:"status_code"`
	ActorID  string `json:"actor_id"`
	At       string `json:"at"`
}

func toLedgerEntryDTO(e checkpoint.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:       e.ID,
		Seq:      e.Seq,
		TicketNo: int64(e.TicketNo),
		Code:     string(e.Code),
		ActorID:  e.ActorID,
		At:       e.At.Format(checkpoint.ViewTimeLayout),
	}
}

type TicketViewDTO struct {
	TicketNo            int64  `json:"ticket_no"`
	TPNo                string `json:"tp_no"`
	PONo                string `json:"po_no"`
	ChallanNo           string `json:"challan_no"`
	Direction           string `json:"direction"`
	CounterpartyName    string `json:"counterparty_name"`
	CounterpartyAddress string `json:"counterparty_address"`
	MaterialName        string `json:"material_name"`
	MaterialType        string `json:"material_type"`
	TransporterName     string `json:"transporter_name"`
	VehicleNo           string `json:"vehicle_no"`
	In                  string `json:"in"`
	Out                 string `json:"out"`
	Date                string `json:"date"`
	Stage               string `json:"stage"`
}

func toTicketViewDTOs(views []checkpoint.TicketView) []TicketViewDTO {
	dtos := make([]TicketViewDTO, len(views))
	for i, v := range views {
		dtos[i] = toTicketViewDTO(v)
	}
	return dtos
}

func toTicketViewDTO(v checkpoint.TicketView) TicketViewDTO {
	return TicketViewDTO{
		TicketNo:            int64(v.TicketNo),
		TPNo:                v.TPNo,
		PONo:                v.PONo,
		ChallanNo:           v.ChallanNo,
		Direction:           string(v.Direction),
		CounterpartyName:    v.CounterpartyName,
		CounterpartyAddress: v.CounterpartyAddress,
		MaterialName:        v.MaterialName,
		MaterialType:        v.MaterialType,
		TransporterName:     v.TransporterName,
		VehicleNo:           v.VehicleNo,
		In:                  v.In,
		Out:                 v.Out,
		Date:                v.Date,
		Stage:               string(v.Stage),
	}
}

type ReportDTO struct {
	TicketNo            int64            `json:"ticket_no"`
	Date                string           `json:"date"`
	Direction           string           `json:"direction"`
	VehicleNo           string           `json:"vehicle_no"`
	MaterialOrProduct   string           `json:"material_or_product"`
	MaterialType        string           `json:"material_type"`
	CounterpartyName    string           `json:"counterparty_name"`
	CounterpartyAddress string           `json:"counterparty_address"`
	CompanyName         string           `json:"company_name"`
	CompanyAddress      string           `json:"company_address"`
	QualityParameters   MeasurementsJSON `json:"quality_parameters"`
}

func toReportDTO(r checkpoint.ReportView) ReportDTO {
	return ReportDTO{
		TicketNo:            int64(r.TicketNo),
		Date:                r.Date,
		Direction:           string(r.Direction),
		VehicleNo:           r.VehicleNo,
		MaterialOrProduct:   r.MaterialOrProduct,
		MaterialType:        r.MaterialType,
		CounterpartyName:    r.CounterpartyName,
		CounterpartyAddress: r.CounterpartyAddress,
		CompanyName:         r.CompanyName,
		CompanyAddress:      r.CompanyAddress,
		QualityParameters:   MeasurementsJSON(r.QualityParameters),
	}
}

type QualityRecordDTO struct {
	TicketNo       int64  `json:"ticket_no"`
	QualityRangeID string `json:"quality_range_id"`
	QualityValues  string `json:"quality_values"`
}

func toQualityRecordDTO(r checkpoint.QualityRecord) QualityRecordDTO {
	ids, values := r.Encode()
	return QualityRecordDTO{TicketNo: int64(r.TicketNo), QualityRangeID: ids, QualityValues: values}
}

type CountDTO struct {
	Count int `json:"count"`
}

type ReconcileDTO struct {
	TicketNo int64  `json:"ticket_no"`
	Stage    string `json:"stage"`
	Repaired bool   `json:"repaired"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// ORDERED MEASUREMENTS
// =============================================================================

// MeasurementsJSON is a JSON object whose key order is kept.
type MeasurementsJSON checkpoint.Measurements

func (m *MeasurementsJSON) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("measurements must be a JSON object")
	}

	var out MeasurementsJSON
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		var raw string
		switch v := valTok.(type) {
		case json.Number:
			raw = v.String()
		case string:
			raw = strings.TrimSpace(v)
		default:
			return fmt.Errorf("measurement %q must be a number", key)
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("measurement %q: %w", key, err)
		}
		out = append(out, checkpoint.Measurement{Parameter: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

func (m MeasurementsJSON) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ms := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(ms.Parameter)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(ms.Value.String())
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
