// Package catalog holds the immutable per-source configuration: endpoint
// templates, identifier discovery, the ordered export columns and the rules
// the normalizer applies to each detail document.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Strategy selects how a detail document becomes a flat record.
type Strategy string

// Supported normalization strategies.
const (
	// StrategyFlatten keeps top-level fields named in Columns, serializing
	// nested flatten-set fields to compact JSON text.
	StrategyFlatten Strategy = "flatten"
	// StrategyProject maps every column to a dotted path, defaulting to "".
	StrategyProject Strategy = "project"
)

// Listing describes a paginated product index.
type Listing struct {
	URL           string `yaml:"url"`
	ProductsField string `yaml:"products_field"`
	IDField       string `yaml:"id_field"`
}

// Detail describes the per-product endpoint.
type Detail struct {
	URL string `yaml:"url"`
}

// Envelope describes a response wrapper around the product payload.
type Envelope struct {
	StatusField string `yaml:"status_field"`
	StatusValue string `yaml:"status_value"`
	DataPath    string `yaml:"data_path"`
}

// Artifacts names the files written for a source. Empty names are skipped.
type Artifacts struct {
	IDs    string `yaml:"ids"`
	Raw    string `yaml:"raw"`
	Export string `yaml:"export"`
}

// Schema is the configuration of one source. It must not be mutated after
// the catalog is loaded.
type Schema struct {
	Name          string            `yaml:"name"`
	Display       string            `yaml:"display"`
	Aliases       []string          `yaml:"aliases"`
	IDLabel       string            `yaml:"id_label"`
	Strategy      Strategy          `yaml:"strategy"`
	Headers       map[string]string `yaml:"headers"`
	Listing       *Listing          `yaml:"listing"`
	Identifiers   []string          `yaml:"identifiers"`
	Detail        Detail            `yaml:"detail"`
	Envelope      *Envelope         `yaml:"envelope"`
	PresenceField string            `yaml:"presence_field"`
	FlattenFields []string          `yaml:"flatten_fields"`
	Columns       []string          `yaml:"columns"`
	Projection    map[string]string `yaml:"projection"`
	Artifacts     Artifacts         `yaml:"artifacts"`

	columnSet  map[string]struct{}
	flattenSet map[string]struct{}
}

// ListingURL renders the listing template for a 1-based page number.
func (s *Schema) ListingURL(page int) string {
	if s.Listing == nil {
		return ""
	}
	return strings.ReplaceAll(s.Listing.URL, "{page}", strconv.Itoa(page))
}

// DetailURL renders the detail template for one identifier.
func (s *Schema) DetailURL(id string) string {
	return strings.ReplaceAll(s.Detail.URL, "{id}", id)
}

// HasListing reports whether identifiers are discovered by paging.
func (s *Schema) HasListing() bool {
	return s.Listing != nil
}

// HasColumn reports whether name is one of the declared columns.
func (s *Schema) HasColumn(name string) bool {
	_, ok := s.columnSet[name]
	return ok
}

// Flattens reports whether name belongs to the flatten-set.
func (s *Schema) Flattens(name string) bool {
	_, ok := s.flattenSet[name]
	return ok
}

// Label returns the human noun for identifiers in progress messages.
func (s *Schema) Label() string {
	if s.IDLabel == "" {
		return "product ID"
	}
	return s.IDLabel
}

// Validate checks the schema is internally consistent.
func (s *Schema) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("source name is required")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("source %s: columns are required", s.Name)
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, col := range s.Columns {
		if _, dup := seen[col]; dup {
			return fmt.Errorf("source %s: duplicate column %q", s.Name, col)
		}
		seen[col] = struct{}{}
	}
	if !strings.Contains(s.Detail.URL, "{id}") {
		return fmt.Errorf("source %s: detail url must contain {id}", s.Name)
	}
	if s.Listing != nil {
		if !strings.Contains(s.Listing.URL, "{page}") {
			return fmt.Errorf("source %s: listing url must contain {page}", s.Name)
		}
		if s.Listing.ProductsField == "" || s.Listing.IDField == "" {
			return fmt.Errorf("source %s: listing products_field and id_field are required", s.Name)
		}
	} else if len(s.Identifiers) == 0 {
		return fmt.Errorf("source %s: either listing or identifiers is required", s.Name)
	}
	switch s.Strategy {
	case StrategyFlatten:
		if s.PresenceField == "" {
			return fmt.Errorf("source %s: flatten strategy requires presence_field", s.Name)
		}
	case StrategyProject:
		for _, col := range s.Columns {
			if _, ok := s.Projection[col]; !ok {
				return fmt.Errorf("source %s: column %q has no projection path", s.Name, col)
			}
		}
	default:
		return fmt.Errorf("source %s: unknown strategy %q", s.Name, s.Strategy)
	}
	if s.Artifacts.Export == "" {
		return fmt.Errorf("source %s: artifacts.export is required", s.Name)
	}
	return nil
}

func (s *Schema) index() {
	s.columnSet = make(map[string]struct{}, len(s.Columns))
	for _, col := range s.Columns {
		s.columnSet[col] = struct{}{}
	}
	s.flattenSet = make(map[string]struct{}, len(s.FlattenFields))
	for _, f := range s.FlattenFields {
		s.flattenSet[f] = struct{}{}
	}
	if s.Display == "" {
		s.Display = s.Name
	}
}

// Catalog is the set of configured sources.
type Catalog struct {
	sources []*Schema
	byName  map[string]*Schema
}

type document struct {
	Sources []*Schema `yaml:"sources"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file, falling back to the built-in catalog when path
// is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path.
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(doc.Sources) == 0 {
		return nil, errors.New("catalog defines no sources")
	}
	c := &Catalog{byName: make(map[string]*Schema)}
	for _, src := range doc.Sources {
		if err := src.Validate(); err != nil {
			return nil, err
		}
		src.index()
		for _, name := range append([]string{src.Name}, src.Aliases...) {
			key := strings.ToLower(name)
			if _, dup := c.byName[key]; dup {
				return nil, fmt.Errorf("duplicate source name %q", name)
			}
			c.byName[key] = src
		}
		c.sources = append(c.sources, src)
	}
	return c, nil
}

// Lookup resolves a source by name or alias, case-insensitively.
func (c *Catalog) Lookup(name string) (*Schema, bool) {
	s, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Sources returns the configured sources in catalog order.
func (c *Catalog) Sources() []*Schema {
	return append([]*Schema(nil), c.sources...)
}
