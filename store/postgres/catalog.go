package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/weighbridge/checkpoint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// CATALOG (checkpoint.Catalog interface)
// =============================================================================

func (s *Store) Supplier(ctx context.Context, id int64) (checkpoint.Party, error) {
	var m supplierModel
	if err := s.first(ctx, &m, "supplier", id, "id = ?", id); err != nil {
		return checkpoint.Party{}, err
	}
	return m.toParty(), nil
}

func (s *Store) Customer(ctx context.Context, id int64) (checkpoint.Party, error) {
	var m customerModel
	if err := s.first(ctx, &m, "customer", id, "id = ?", id); err != nil {
		return checkpoint.Party{}, err
	}
	return m.toParty(), nil
}

func (s *Store) Material(ctx context.Context, id int64) (string, error) {
	var m materialModel
	if err := s.first(ctx, &m, "material", id, "id = ?", id); err != nil {
		return "", err
	}
	return m.Name, nil
}

func (s *Store) Product(ctx context.Context, id int64) (string, error) {
	var m productModel
	if err := s.first(ctx, &m, "product", id, "id = ?", id); err != nil {
		return "", err
	}
	return m.Name, nil
}

func (s *Store) Transporter(ctx context.Context, id int64) (string, error) {
	var m transporterModel
	if err := s.first(ctx, &m, "transporter", id, "id = ?", id); err != nil {
		return "", err
	}
	return m.Name, nil
}

func (s *Store) Vehicle(ctx context.Context, id int64) (checkpoint.Vehicle, error) {
	var m vehicleModel
	if err := s.first(ctx, &m, "vehicle", id, "id = ?", id); err != nil {
		return checkpoint.Vehicle{}, err
	}
	return checkpoint.Vehicle{ID: m.ID, Number: m.VehicleNo}, nil
}

func (s *Store) VehicleByNumber(ctx context.Context, number string) (checkpoint.Vehicle, error) {
	var m vehicleModel
	if err := s.first(ctx, &m, "vehicle", number, "UPPER(vehicle_no) = UPPER(?)", number); err != nil {
		return checkpoint.Vehicle{}, err
	}
	return checkpoint.Vehicle{ID: m.ID, Number: m.VehicleNo}, nil
}

func (s *Store) Company(ctx context.Context, id string) (checkpoint.Company, error) {
	var m companyModel
	if err := s.first(ctx, &m, "company", id, "id = ?", id); err != nil {
		return checkpoint.Company{}, err
	}
	return checkpoint.Company{ID: m.ID, Name: m.Name, Address: m.Address}, nil
}

// first loads one row and maps gorm.ErrRecordNotFound to NotFoundError.
func (s *Store) first(ctx context.Context, dest any, kind string, id any, cond string, args ...any) error {
	err := s.db.WithContext(ctx).Where(cond, args...).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return checkpoint.NotFound(kind, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", kind, err)
	}
	return nil
}

func (s *Store) SearchParties(ctx context.Context, text string) ([]checkpoint.Party, []checkpoint.Party, error) {
	pattern := "%" + text + "%"
	like := "LOWER(name) LIKE LOWER(?) OR LOWER(address_line1) LIKE LOWER(?)"

	var suppliers []supplierModel
	if err := s.db.WithContext(ctx).Where(like, pattern, pattern).Order("id").Find(&suppliers).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to search suppliers: %w", err)
	}
	var customers []customerModel
	if err := s.db.WithContext(ctx).Where(like, pattern, pattern).Order("id").Find(&customers).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to search customers: %w", err)
	}

	outS := make([]checkpoint.Party, len(suppliers))
	for i, m := range suppliers {
		outS[i] = m.toParty()
	}
	outC := make([]checkpoint.Party, len(customers))
	for i, m := range customers {
		outC[i] = m.toParty()
	}
	return outS, outC, nil
}

func (s *Store) QualityRangeID(ctx context.Context, key checkpoint.RangeKey) (int64, error) {
	query := s.db.WithContext(ctx).
		Where("parameter_name = ? AND direction = ? AND material_name = ?",
			key.Parameter, string(key.Direction), key.MaterialName)
	if key.Direction == checkpoint.Inbound {
		query = query.Where("supplier_name = ? AND supplier_address = ?", key.SupplierName, key.SupplierAddress)
	}

	var m qualityRangeModel
	err := query.Order("id").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, checkpoint.NotFound("quality range", key.Parameter)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve quality range: %w", err)
	}
	return m.ID, nil
}

func (s *Store) QualityRanges(ctx context.Context, ids []int64) (map[int64]checkpoint.QualityRange, error) {
	out := make(map[int64]checkpoint.QualityRange, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []qualityRangeModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to load quality ranges: %w", err)
	}
	for _, m := range models {
		out[m.ID] = checkpoint.QualityRange{ID: m.ID, Parameter: m.ParameterName}
	}
	return out, nil
}

// =============================================================================
// MASTER DATA SEEDING
// =============================================================================

func (s *Store) upsert(ctx context.Context, value any) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(value).Error
}

func (s *Store) SaveSupplier(ctx context.Context, p checkpoint.Party) error {
	return s.upsert(ctx, &supplierModel{partyModel{ID: p.ID, Name: p.Name, AddressLine1: p.AddressLine1, AddressLine2: p.AddressLine2}})
}

func (s *Store) SaveCustomer(ctx context.Context, p checkpoint.Party) error {
	return s.upsert(ctx, &customerModel{partyModel{ID: p.ID, Name: p.Name, AddressLine1: p.AddressLine1, AddressLine2: p.AddressLine2}})
}

func (s *Store) SaveMaterial(ctx context.Context, id int64, name string) error {
	return s.upsert(ctx, &materialModel{namedModel{ID: id, Name: name}})
}

func (s *Store) SaveProduct(ctx context.Context, id int64, name string) error {
	return s.upsert(ctx, &productModel{namedModel{ID: id, Name: name}})
}

func (s *Store) SaveTransporter(ctx context.Context, id int64, name string) error {
	return s.upsert(ctx, &transporterModel{namedModel{ID: id, Name: name}})
}

func (s *Store) SaveVehicle(ctx context.Context, v checkpoint.Vehicle) error {
	return s.upsert(ctx, &vehicleModel{ID: v.ID, VehicleNo: v.Number})
}

func (s *Store) SaveCompany(ctx context.Context, c checkpoint.Company) error {
	return s.upsert(ctx, &companyModel{ID: c.ID, Name: c.Name, Address: c.Address})
}

func (s *Store) SaveQualityRange(ctx context.Context, id int64, key checkpoint.RangeKey) error {
	m := qualityRangeModel{
		ID:            id,
		ParameterName: key.Parameter,
		Direction:     string(key.Direction),
		MaterialName:  key.MaterialName,
	}
	if key.Direction == checkpoint.Inbound {
		m.SupplierName = key.SupplierName
		m.SupplierAddress = key.SupplierAddress
	}
	return s.upsert(ctx, &m)
}

func (s *Store) DeleteSupplier(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Delete(&supplierModel{}, "id = ?", id).Error
}
