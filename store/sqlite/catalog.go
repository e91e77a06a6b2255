package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/weighbridge/checkpoint"
)

// =============================================================================
// CATALOG (checkpoint.Catalog interface)
// =============================================================================
// Catalog reads always go through the database handle, never a
// transaction, so they must not be called from inside WithTx.

func (s *Store) Supplier(ctx context.Context, id int64) (checkpoint.Party, error) {
	return s.party(ctx, "suppliers", "supplier", id)
}

func (s *Store) Customer(ctx context.Context, id int64) (checkpoint.Party, error) {
	return s.party(ctx, "customers", "customer", id)
}

func (s *Store) party(ctx context.Context, table, kind string, id int64) (checkpoint.Party, error) {
	var p checkpoint.Party
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, address_line1, address_line2 FROM `+table+` WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.AddressLine1, &p.AddressLine2)
	if err == sql.ErrNoRows {
		return checkpoint.Party{}, checkpoint.NotFound(kind, id)
	}
	if err != nil {
		return checkpoint.Party{}, fmt.Errorf("failed to load %s: %w", kind, err)
	}
	return p, nil
}

func (s *Store) Material(ctx context.Context, id int64) (string, error) {
	return s.name(ctx, "materials", "material", id)
}

func (s *Store) Product(ctx context.Context, id int64) (string, error) {
	return s.name(ctx, "products", "product", id)
}

func (s *Store) Transporter(ctx context.Context, id int64) (string, error) {
	return s.name(ctx, "transporters", "transporter", id)
}

func (s *Store) name(ctx context.Context, table, kind string, id int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM `+table+` WHERE id = ?`, id).Scan(&name)
	if err == sql.ErrNoRows {
		return "", checkpoint.NotFound(kind, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", kind, err)
	}
	return name, nil
}

func (s *Store) Vehicle(ctx context.Context, id int64) (checkpoint.Vehicle, error) {
	var v checkpoint.Vehicle
	err := s.db.QueryRowContext(ctx, `SELECT id, vehicle_no FROM vehicles WHERE id = ?`, id).
		Scan(&v.ID, &v.Number)
	if err == sql.ErrNoRows {
		return checkpoint.Vehicle{}, checkpoint.NotFound("vehicle", id)
	}
	if err != nil {
		return checkpoint.Vehicle{}, fmt.Errorf("failed to load vehicle: %w", err)
	}
	return v, nil
}

func (s *Store) VehicleByNumber(ctx context.Context, number string) (checkpoint.Vehicle, error) {
	var v checkpoint.Vehicle
	err := s.db.QueryRowContext(ctx, `SELECT id, vehicle_no FROM vehicles WHERE vehicle_no = ?`, number).
		Scan(&v.ID, &v.Number)
	if err == sql.ErrNoRows {
		return checkpoint.Vehicle{}, checkpoint.NotFound("vehicle", number)
	}
	if err != nil {
		return checkpoint.Vehicle{}, fmt.Errorf("failed to load vehicle: %w", err)
	}
	return v, nil
}

func (s *Store) Company(ctx context.Context, id string) (checkpoint.Company, error) {
	var c checkpoint.Company
	err := s.db.QueryRowContext(ctx, `SELECT id, name, address FROM companies WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Address)
	if err == sql.ErrNoRows {
		return checkpoint.Company{}, checkpoint.NotFound("company", id)
	}
	if err != nil {
		return checkpoint.Company{}, fmt.Errorf("failed to load company: %w", err)
	}
	return c, nil
}

func (s *Store) SearchParties(ctx context.Context, text string) ([]checkpoint.Party, []checkpoint.Party, error) {
	suppliers, err := s.searchParties(ctx, "suppliers", text)
	if err != nil {
		return nil, nil, err
	}
	customers, err := s.searchParties(ctx, "customers", text)
	if err != nil {
		return nil, nil, err
	}
	return suppliers, customers, nil
}

func (s *Store) searchParties(ctx context.Context, table, text string) ([]checkpoint.Party, error) {
	pattern := "%" + text + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address_line1, address_line2 FROM `+table+`
		WHERE name LIKE ? OR address_line1 LIKE ?
		ORDER BY id
	`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", table, err)
	}
	defer rows.Close()

	var parties []checkpoint.Party
	for rows.Next() {
		var p checkpoint.Party
		if err := rows.Scan(&p.ID, &p.Name, &p.AddressLine1, &p.AddressLine2); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

func (s *Store) QualityRangeID(ctx context.Context, key checkpoint.RangeKey) (int64, error) {
	query := `SELECT id FROM quality_ranges
		WHERE parameter_name = ? AND direction = ? AND material_name = ?`
	args := []any{key.Parameter, string(key.Direction), key.MaterialName}
	if key.Direction == checkpoint.Inbound {
		query += ` AND supplier_name = ? AND supplier_address = ?`
		args = append(args, key.SupplierName, key.SupplierAddress)
	}
	query += ` ORDER BY id LIMIT 1`

	var id int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, checkpoint.NotFound("quality range", key.Parameter)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve quality range: %w", err)
	}
	return id, nil
}

func (s *Store) QualityRanges(ctx context.Context, ids []int64) (map[int64]checkpoint.QualityRange, error) {
	out := make(map[int64]checkpoint.QualityRange, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parameter_name FROM quality_ranges WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load quality ranges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r checkpoint.QualityRange
		if err := rows.Scan(&r.ID, &r.Parameter); err != nil {
			return nil, fmt.Errorf("failed to scan quality range: %w", err)
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

// =============================================================================
// MASTER DATA SEEDING
// =============================================================================
// Master-data CRUD lives elsewhere; these upserts exist so a fresh
// database and the tests can be populated.

func (s *Store) SaveSupplier(ctx context.Context, p checkpoint.Party) error {
	return s.saveParty(ctx, "suppliers", p)
}

func (s *Store) SaveCustomer(ctx context.Context, p checkpoint.Party) error {
	return s.saveParty(ctx, "customers", p)
}

func (s *Store) saveParty(ctx context.Context, table string, p checkpoint.Party) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+table+` (id, name, address_line1, address_line2) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.AddressLine1, p.AddressLine2)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", table, err)
	}
	return nil
}

func (s *Store) SaveMaterial(ctx context.Context, id int64, name string) error {
	return s.saveName(ctx, "materials", id, name)
}

func (s *Store) SaveProduct(ctx context.Context, id int64, name string) error {
	return s.saveName(ctx, "products", id, name)
}

func (s *Store) SaveTransporter(ctx context.Context, id int64, name string) error {
	return s.saveName(ctx, "transporters", id, name)
}

func (s *Store) saveName(ctx context.Context, table string, id int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+table+` (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", table, err)
	}
	return nil
}

func (s *Store) SaveVehicle(ctx context.Context, v checkpoint.Vehicle) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vehicles (id, vehicle_no) VALUES (?, ?)`, v.ID, v.Number)
	if err != nil {
		return fmt.Errorf("failed to save vehicle: %w", err)
	}
	return nil
}

func (s *Store) SaveCompany(ctx context.Context, c checkpoint.Company) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO companies (id, name, address) VALUES (?, ?, ?)`, c.ID, c.Name, c.Address)
	if err != nil {
		return fmt.Errorf("failed to save company: %w", err)
	}
	return nil
}

func (s *Store) SaveQualityRange(ctx context.Context, id int64, key checkpoint.RangeKey) error {
	if key.Direction == checkpoint.Outbound {
		key.SupplierName, key.SupplierAddress = "", ""
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO quality_ranges
		(id, parameter_name, direction, material_name, supplier_name, supplier_address)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, key.Parameter, string(key.Direction), key.MaterialName, key.SupplierName, key.SupplierAddress)
	if err != nil {
		return fmt.Errorf("failed to save quality range: %w", err)
	}
	return nil
}

func (s *Store) DeleteSupplier(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM suppliers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete supplier: %w", err)
	}
	return nil
}
