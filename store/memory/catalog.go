package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/warp/weighbridge/checkpoint"
)

// Catalog is an in-memory master-data lookup. Entities are added and
// removed directly, without validation.
type Catalog struct {
	mu           sync.RWMutex
	suppliers    map[int64]checkpoint.Party
	customers    map[int64]checkpoint.Party
	materials    map[int64]string
	products     map[int64]string
	transporters map[int64]string
	vehicles     map[int64]checkpoint.Vehicle
	companies    map[string]checkpoint.Company
	ranges       map[int64]checkpoint.RangeKey
}

func NewCatalog() *Catalog {
	return &Catalog{
		suppliers:    make(map[int64]checkpoint.Party),
		customers:    make(map[int64]checkpoint.Party),
		materials:    make(map[int64]string),
		products:     make(map[int64]string),
		transporters: make(map[int64]string),
		vehicles:     make(map[int64]checkpoint.Vehicle),
		companies:    make(map[string]checkpoint.Company),
		ranges:       make(map[int64]checkpoint.RangeKey),
	}
}

// ===== SEEDING =====

func (c *Catalog) AddSupplier(p checkpoint.Party) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suppliers[p.ID] = p
}

func (c *Catalog) AddCustomer(p checkpoint.Party) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customers[p.ID] = p
}

func (c *Catalog) AddMaterial(id int64, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materials[id] = name
}

func (c *Catalog) AddProduct(id int64, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[id] = name
}

func (c *Catalog) AddTransporter(id int64, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transporters[id] = name
}

func (c *Catalog) AddVehicle(v checkpoint.Vehicle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vehicles[v.ID] = v
}

func (c *Catalog) AddCompany(co checkpoint.Company) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.companies[co.ID] = co
}

// AddQualityRange registers a range entry. For outbound keys the
// supplier fields are ignored.
func (c *Catalog) AddQualityRange(id int64, key checkpoint.RangeKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key.Direction == checkpoint.Outbound {
		key.SupplierName, key.SupplierAddress = "", ""
	}
	c.ranges[id] = key
}

// DeleteSupplier removes a supplier, leaving tickets that reference it
// dangling.
func (c *Catalog) DeleteSupplier(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.suppliers, id)
}

func (c *Catalog) DeleteQualityRange(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ranges, id)
}

// Save* mirror the seeding methods of the persistent stores.

func (c *Catalog) SaveSupplier(_ context.Context, p checkpoint.Party) error {
	c.AddSupplier(p)
	return nil
}

func (c *Catalog) SaveCustomer(_ context.Context, p checkpoint.Party) error {
	c.AddCustomer(p)
	return nil
}

func (c *Catalog) SaveMaterial(_ context.Context, id int64, name string) error {
	c.AddMaterial(id, name)
	return nil
}

func (c *Catalog) SaveProduct(_ context.Context, id int64, name string) error {
	c.AddProduct(id, name)
	return nil
}

func (c *Catalog) SaveTransporter(_ context.Context, id int64, name string) error {
	c.AddTransporter(id, name)
	return nil
}

func (c *Catalog) SaveVehicle(_ context.Context, v checkpoint.Vehicle) error {
	c.AddVehicle(v)
	return nil
}

func (c *Catalog) SaveCompany(_ context.Context, co checkpoint.Company) error {
	c.AddCompany(co)
	return nil
}

func (c *Catalog) SaveQualityRange(_ context.Context, id int64, key checkpoint.RangeKey) error {
	c.AddQualityRange(id, key)
	return nil
}

// ===== LOOKUPS =====

func (c *Catalog) Supplier(_ context.Context, id int64) (checkpoint.Party, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.suppliers[id]
	if !ok {
		return checkpoint.Party{}, checkpoint.NotFound("supplier", id)
	}
	return p, nil
}

func (c *Catalog) Customer(_ context.Context, id int64) (checkpoint.Party, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.customers[id]
	if !ok {
		return checkpoint.Party{}, checkpoint.NotFound("customer", id)
	}
	return p, nil
}

func (c *Catalog) Material(_ context.Context, id int64) (string, error) {
	return c.name(c.materials, "material", id)
}

func (c *Catalog) Product(_ context.Context, id int64) (string, error) {
	return c.name(c.products, "product", id)
}

func (c *Catalog) Transporter(_ context.Context, id int64) (string, error) {
	return c.name(c.transporters, "transporter", id)
}

func (c *Catalog) name(m map[int64]string, kind string, id int64) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := m[id]
	if !ok {
		return "", checkpoint.NotFound(kind, id)
	}
	return n, nil
}

func (c *Catalog) Vehicle(_ context.Context, id int64) (checkpoint.Vehicle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vehicles[id]
	if !ok {
		return checkpoint.Vehicle{}, checkpoint.NotFound("vehicle", id)
	}
	return v, nil
}

func (c *Catalog) VehicleByNumber(_ context.Context, number string) (checkpoint.Vehicle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.vehicles {
		if strings.EqualFold(v.Number, number) {
			return v, nil
		}
	}
	return checkpoint.Vehicle{}, checkpoint.NotFound("vehicle", number)
}

func (c *Catalog) Company(_ context.Context, id string) (checkpoint.Company, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	co, ok := c.companies[id]
	if !ok {
		return checkpoint.Company{}, checkpoint.NotFound("company", id)
	}
	return co, nil
}

func (c *Catalog) SearchParties(_ context.Context, text string) ([]checkpoint.Party, []checkpoint.Party, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return matchParties(c.suppliers, text), matchParties(c.customers, text), nil
}

func matchParties(m map[int64]checkpoint.Party, text string) []checkpoint.Party {
	needle := strings.ToLower(text)
	var out []checkpoint.Party
	for _, p := range m {
		if strings.Contains(strings.ToLower(p.Name), needle) ||
			strings.Contains(strings.ToLower(p.AddressLine1), needle) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Catalog) QualityRangeID(_ context.Context, key checkpoint.RangeKey) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if key.Direction == checkpoint.Outbound {
		key.SupplierName, key.SupplierAddress = "", ""
	}
	var found int64
	for id, k := range c.ranges {
		if k == key && (found == 0 || id < found) {
			found = id
		}
	}
	if found == 0 {
		return 0, checkpoint.NotFound("quality range", key.Parameter)
	}
	return found, nil
}

func (c *Catalog) QualityRanges(_ context.Context, ids []int64) (map[int64]checkpoint.QualityRange, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]checkpoint.QualityRange, len(ids))
	for _, id := range ids {
		if k, ok := c.ranges[id]; ok {
			out[id] = checkpoint.QualityRange{ID: id, Parameter: k.Parameter}
		}
	}
	return out, nil
}
