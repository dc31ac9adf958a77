// Package normalizer turns one raw detail document into a flat record that
// matches a source's declared columns.
package normalizer

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/document"
)

// Skippable normalization outcomes. Callers drop the document and continue.
var (
	// ErrMalformedDocument reports a body that is not valid JSON.
	ErrMalformedDocument = errors.New("malformed document")
	// ErrNotProduct reports valid JSON that does not describe a product.
	ErrNotProduct = errors.New("document is not a product record")
)

// Record maps column names to cell text. It never holds keys outside the
// source's columns; a missing key renders as an empty cell.
type Record map[string]string

// Row lays the record out in column order.
func (r Record) Row(columns []string) []string {
	row := make([]string, len(columns))
	for i, col := range columns {
		row[i] = r[col]
	}
	return row
}

// Normalize parses raw and applies the schema's strategy. The returned error
// wraps ErrMalformedDocument or ErrNotProduct when the document should be
// skipped.
func Normalize(raw []byte, schema *catalog.Schema) (Record, error) {
	doc, err := document.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	if schema.Envelope != nil {
		doc, err = unwrap(doc, schema.Envelope)
		if err != nil {
			return nil, err
		}
	}
	switch schema.Strategy {
	case catalog.StrategyFlatten:
		return flatten(doc, schema)
	case catalog.StrategyProject:
		return project(doc, schema)
	default:
		return nil, fmt.Errorf("unsupported strategy %q", schema.Strategy)
	}
}

func unwrap(doc document.Value, env *catalog.Envelope) (document.Value, error) {
	status, ok := doc.Lookup(env.StatusField)
	if !ok || status.IsNested() || status.Text() != env.StatusValue {
		return document.Value{}, fmt.Errorf("%w: %s is not %q", ErrNotProduct, env.StatusField, env.StatusValue)
	}
	payload, ok := doc.Lookup(env.DataPath)
	if !ok {
		return document.Value{}, fmt.Errorf("%w: missing %s", ErrNotProduct, env.DataPath)
	}
	return payload, nil
}

// flatten keeps the top-level members that are columns. Nested values of
// flatten-set members become compact JSON text.
func flatten(doc document.Value, schema *catalog.Schema) (Record, error) {
	if doc.Kind() != document.KindObject {
		return nil, fmt.Errorf("%w: top-level %s", ErrNotProduct, doc.Kind())
	}
	if !doc.Has(schema.PresenceField) {
		return nil, fmt.Errorf("%w: missing %s", ErrNotProduct, schema.PresenceField)
	}
	rec := make(Record, len(schema.Columns))
	for _, m := range doc.Members() {
		if !schema.HasColumn(m.Key) {
			continue
		}
		if schema.Flattens(m.Key) && m.Value.IsNested() {
			rec[m.Key] = m.Value.Compact()
			continue
		}
		rec[m.Key] = m.Value.Text()
	}
	return rec, nil
}

// project resolves every column through its dotted path, defaulting to "".
func project(doc document.Value, schema *catalog.Schema) (Record, error) {
	if doc.Kind() != document.KindObject || doc.Len() == 0 {
		return nil, fmt.Errorf("%w: empty product", ErrNotProduct)
	}
	rec := make(Record, len(schema.Columns))
	for _, col := range schema.Columns {
		v, ok := doc.Lookup(schema.Projection[col])
		if !ok {
			rec[col] = ""
			continue
		}
		rec[col] = v.Text()
	}
	return rec, nil
}
