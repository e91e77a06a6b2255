/*
quality.go - Quality record compile/decompile

PURPOSE:
  A quality check submits a variable set of named measurements. Each name
  is resolved against the range catalog for the ticket's material and
  counterparty, and the record stores (range id, value) pairs.

WIRE FORM:
  Persisted as two comma-joined strings with positional correspondence:

    quality_range_id: "17,18"
    quality_values:   "12.5,3.1"

  No trailing comma. An unresolved id is written as "null". In memory the
  record is a single ordered slice of pairs, so the two sequences cannot
  drift apart; only the codec deals with two strings.

RESOLUTION KEY:
  Inbound:  parameter x material name x supplier name x supplier address
  Outbound: parameter x product name

UNRESOLVED PARAMETERS:
  Strict (default): the whole submission fails with ErrInvalidArgument.
  Lenient: a null id is stored next to the value, positions preserved.

SEE ALSO:
  - service.go: SubmitQuality compiles inside the ticket transaction
  - projector.go: Report decompiles into named parameters
*/
package checkpoint

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// QUALITY RECORD
// =============================================================================

// QualityEntry is one position of a record. RangeID is nil when the
// parameter did not resolve at compile time.
type QualityEntry struct {
	RangeID *int64
	Value   decimal.Decimal
}

type QualityRecord struct {
	TicketNo TicketNo
	Entries  []QualityEntry
}

const nullRangeID = "null"

// Encode returns the persisted id and value strings.
func (r QualityRecord) Encode() (ids, values string) {
	idParts := make([]string, len(r.Entries))
	valueParts := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		if e.RangeID == nil {
			idParts[i] = nullRangeID
		} else {
			idParts[i] = strconv.FormatInt(*e.RangeID, 10)
		}
		valueParts[i] = e.Value.String()
	}
	return strings.Join(idParts, ","), strings.Join(valueParts, ",")
}

// DecodeQualityRecord parses the persisted strings. Sequences of
// different length, or elements that do not parse, are
// ErrCorruptQualityRecord.
func DecodeQualityRecord(no TicketNo, ids, values string) (QualityRecord, error) {
	idParts := splitList(ids)
	valueParts := splitList(values)
	if len(idParts) != len(valueParts) {
		return QualityRecord{}, corrupt("ticket %d: %d range ids but %d values",
			no, len(idParts), len(valueParts))
	}

	rec := QualityRecord{TicketNo: no, Entries: make([]QualityEntry, len(idParts))}
	for i := range idParts {
		if idParts[i] != nullRangeID {
			id, err := strconv.ParseInt(idParts[i], 10, 64)
			if err != nil {
				return QualityRecord{}, corrupt("ticket %d: range id %q at position %d", no, idParts[i], i)
			}
			rec.Entries[i].RangeID = &id
		}
		v, err := decimal.NewFromString(valueParts[i])
		if err != nil {
			return QualityRecord{}, corrupt("ticket %d: value %q at position %d", no, valueParts[i], i)
		}
		rec.Entries[i].Value = v
	}
	return rec, nil
}

func splitList(s string) []string {
	s = strings.TrimSuffix(strings.TrimSpace(s), ",")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// =============================================================================
// COMPILER
// =============================================================================

type Compiler struct {
	Catalog Catalog

	// Strict rejects submissions naming a parameter the range catalog
	// does not know.
	Strict bool
	Log    *zap.Logger
}

func NewCompiler(catalog Catalog, strict bool, log *zap.Logger) *Compiler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compiler{Catalog: catalog, Strict: strict, Log: log}
}

// Compile resolves every measurement against the range catalog and
// returns the record in submission order.
func (c *Compiler) Compile(ctx context.Context, t Ticket, ms Measurements) (QualityRecord, error) {
	if len(ms) == 0 {
		return QualityRecord{}, invalidArgument("no quality measurements")
	}
	seen := make(map[string]bool, len(ms))
	for _, m := range ms {
		if strings.TrimSpace(m.Parameter) == "" {
			return QualityRecord{}, invalidArgument("empty quality parameter name")
		}
		if seen[m.Parameter] {
			return QualityRecord{}, invalidArgument("quality parameter %q given twice", m.Parameter)
		}
		seen[m.Parameter] = true
	}

	base, err := c.rangeKey(ctx, t)
	if err != nil {
		return QualityRecord{}, err
	}

	rec := QualityRecord{TicketNo: t.No, Entries: make([]QualityEntry, 0, len(ms))}
	for _, m := range ms {
		key := base
		key.Parameter = m.Parameter

		entry := QualityEntry{Value: m.Value}
		id, err := c.Catalog.QualityRangeID(ctx, key)
		switch {
		case err == nil:
			entry.RangeID = &id
		case errors.Is(err, ErrNotFound) && c.Strict:
			return QualityRecord{}, invalidArgument("quality parameter %q has no range for %s", m.Parameter, key.MaterialName)
		case errors.Is(err, ErrNotFound):
			c.Log.Warn("quality parameter has no range, storing null id",
				zap.Int64("ticket_no", int64(t.No)),
				zap.String("parameter", m.Parameter),
				zap.String("material", key.MaterialName),
			)
		default:
			return QualityRecord{}, err
		}
		rec.Entries = append(rec.Entries, entry)
	}
	return rec, nil
}

func (c *Compiler) rangeKey(ctx context.Context, t Ticket) (RangeKey, error) {
	key := RangeKey{Direction: t.Direction}
	switch t.Direction {
	case Inbound:
		name, err := c.Catalog.Material(ctx, t.MaterialID)
		if err != nil {
			return RangeKey{}, err
		}
		supplier, err := c.Catalog.Supplier(ctx, t.SupplierID)
		if err != nil {
			return RangeKey{}, err
		}
		key.MaterialName = name
		key.SupplierName = supplier.Name
		key.SupplierAddress = supplier.Address()
	case Outbound:
		name, err := c.Catalog.Product(ctx, t.MaterialID)
		if err != nil {
			return RangeKey{}, err
		}
		key.MaterialName = name
	default:
		return RangeKey{}, invalidArgument("ticket %d has no direction", t.No)
	}
	return key, nil
}

// Decompile turns a record back into named measurements, in stored
// order. Positions with a null id carry no name and are dropped.
func (c *Compiler) Decompile(ctx context.Context, r QualityRecord) (Measurements, error) {
	ids := make([]int64, 0, len(r.Entries))
	for _, e := range r.Entries {
		if e.RangeID != nil {
			ids = append(ids, *e.RangeID)
		}
	}

	ranges, err := c.Catalog.QualityRanges(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(Measurements, 0, len(r.Entries))
	for i, e := range r.Entries {
		if e.RangeID == nil {
			c.Log.Warn("quality record position has null range id",
				zap.Int64("ticket_no", int64(r.TicketNo)),
				zap.Int("position", i),
			)
			continue
		}
		qr, ok := ranges[*e.RangeID]
		if !ok {
			return nil, NotFound("quality range", *e.RangeID)
		}
		out = append(out, Measurement{Parameter: qr.Parameter, Value: e.Value})
	}
	return out, nil
}
