package dataset

import (
	"fmt"
	"log/slog"
	"sort"

	coreerrors "github.com/geldstroom-lab/project-geldstroom/internal/core/errors"
)

// Ident is an identifier that has passed the registry allowlist. The query
// layer only interpolates Ident values into statement text, never raw
// strings — an unvalidated interpolation is a compile error, not a runtime
// risk.
type Ident string

// CrossDatasetName is the reserved dataset name of the pre-joined
// all-datasets view.
const CrossDatasetName = "integraal"

// UniversalSearchTable is the pre-joined cross-dataset aggregate.
const UniversalSearchTable = "universal_search"

// AvailabilityTable records the first/last year with data per dataset and
// per entity.
const AvailabilityTable = "data_availability"

// Registry is the immutable allowlist of datasets and SQL identifiers.
// It is built once from all descriptors at startup and shared read-only
// across concurrent requests; no synchronization is needed after
// construction.
type Registry struct {
	byName  map[string]*Descriptor
	names   []string
	tables  map[string]struct{}
	columns map[string]struct{}
}

// NewRegistry builds a registry from the given descriptors. The allowed
// identifier sets are the union of every table, view, field and fixed year
// label the descriptors mention.
func NewRegistry(descriptors []*Descriptor) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]*Descriptor, len(descriptors)),
		tables:  make(map[string]struct{}),
		columns: make(map[string]struct{}),
	}

	for _, d := range descriptors {
		if d.Name == "" || d.Table == "" || d.PrimaryField == "" {
			return nil, fmt.Errorf("dataset descriptor missing name, table or primary field: %+v", d)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate dataset %q", d.Name)
		}
		r.byName[d.Name] = d
		r.names = append(r.names, d.Name)

		r.tables[d.Table] = struct{}{}
		if d.AggregatedTable != "" {
			r.tables[d.AggregatedTable] = struct{}{}
		}

		r.addColumns(d.PrimaryField, d.YearField, d.AmountField)
		r.addColumns(d.PrimaryField + "_key")
		r.addColumns(d.SearchFields...)
		r.addColumns(d.FilterFields...)
		r.addColumns(d.ExtraColumns...)
		r.addColumns(d.ViewColumns...)
		r.addColumns(d.GroupableFields...)
		if d.EntityField != "" {
			r.addColumns(d.EntityField)
		}
	}

	r.tables[UniversalSearchTable] = struct{}{}
	r.tables[AvailabilityTable] = struct{}{}

	// Standard columns shared by views and the universal table.
	r.addColumns(
		"totaal", "row_count", "random_order", "years_with_data",
		"sources", "source_count", "record_count",
		"ontvanger", "ontvanger_key", "primary_value", "module",
	)
	for _, y := range Years {
		r.addColumns(fmt.Sprintf("%d", y), fmt.Sprintf("y%d", y))
	}

	sort.Strings(r.names)
	return r, nil
}

func (r *Registry) addColumns(cols ...string) {
	for _, c := range cols {
		if c != "" {
			r.columns[c] = struct{}{}
		}
	}
}

// Get returns the descriptor for name, or a validation error for unknown
// datasets.
func (r *Registry) Get(name string) (*Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, coreerrors.Validationf("unknown dataset: %s", name)
	}
	return d, nil
}

// Names returns all dataset names, sorted.
func (r *Registry) Names() []string { return r.names }

// Descriptors returns all descriptors in name order.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}

// ValidateColumn gates a column name before it may be interpolated into
// statement text. Rejections are logged: a fabricated identifier here is
// either a caller bug or an injection attempt.
func (r *Registry) ValidateColumn(name string) (Ident, error) {
	if _, ok := r.columns[name]; !ok {
		slog.Warn("Rejected column identifier", "identifier", name)
		return "", coreerrors.Validationf("invalid column: %s", name)
	}
	return Ident(name), nil
}

// ValidateTable gates a table or view name the same way.
func (r *Registry) ValidateTable(name string) (Ident, error) {
	if _, ok := r.tables[name]; !ok {
		slog.Warn("Rejected table identifier", "identifier", name)
		return "", coreerrors.Validationf("invalid table: %s", name)
	}
	return Ident(name), nil
}
