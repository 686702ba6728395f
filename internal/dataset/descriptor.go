package dataset

// Years is the fixed, closed set of budget years carried by every dataset.
// Periods outside this range do not exist in any table or view.
var Years = []int{2016, 2017, 2018, 2019, 2020, 2021, 2022, 2023, 2024}

// ValidYear reports whether y is one of the fixed budget years.
func ValidYear(y int) bool {
	return y >= Years[0] && y <= Years[len(Years)-1]
}

// Descriptor describes one dataset: where its raw rows live, where its
// precomputed aggregated view lives, and which columns are searchable,
// filterable and displayable. Descriptors are built once at startup and
// never mutated; the registry shares them read-only across requests.
type Descriptor struct {
	Name string `yaml:"name"`

	// Table is the raw source table; AggregatedTable the period-pivoted
	// view keyed by the primary field (empty when no view exists).
	Table           string `yaml:"table"`
	AggregatedTable string `yaml:"aggregated_table"`

	PrimaryField string `yaml:"primary_field"`
	YearField    string `yaml:"year_field"`
	AmountField  string `yaml:"amount_field"`

	// AmountMultiplier normalizes source amounts to absolute euros
	// (some registers record amounts in thousands).
	AmountMultiplier int64 `yaml:"amount_multiplier"`

	// SearchFields in descending match priority; FilterFields accept
	// multi-valued equality filters; ExtraColumns may be requested for
	// display (max two per request); ViewColumns is the subset of
	// ExtraColumns materialized in the aggregated view.
	SearchFields []string `yaml:"search_fields"`
	FilterFields []string `yaml:"filter_fields"`
	ExtraColumns []string `yaml:"extra_columns"`
	ViewColumns  []string `yaml:"view_columns"`

	// EntityField is set for datasets partitioned by a secondary dimension
	// (a province, a municipality, a source organisation). The aggregated
	// view is then grouped by (primary, entity).
	EntityField string `yaml:"entity_field"`

	// Collection is the text-search index collection for this dataset;
	// LowerFields have a lowercased prefix variant in that collection.
	Collection  string   `yaml:"collection"`
	LowerFields []string `yaml:"lower_fields"`

	// GroupableFields drive the row-detail drill-down; DefaultGroupBy is
	// used when the caller does not pick one.
	GroupableFields []string `yaml:"groupable_fields"`
	DefaultGroupBy  string   `yaml:"default_group_by"`
}

// Multiplier returns the amount multiplier, defaulting to 1.
func (d *Descriptor) Multiplier() int64 {
	if d.AmountMultiplier <= 0 {
		return 1
	}
	return d.AmountMultiplier
}

// HasView reports whether the dataset carries a precomputed aggregated view.
func (d *Descriptor) HasView() bool { return d.AggregatedTable != "" }

// InView reports whether every requested extra column is materialized in
// the aggregated view.
func (d *Descriptor) InView(columns []string) bool {
	for _, c := range columns {
		if !contains(d.ViewColumns, c) {
			return false
		}
	}
	return true
}

// IsSearchField reports whether f is one of the dataset's searchable fields.
func (d *Descriptor) IsSearchField(f string) bool { return contains(d.SearchFields, f) }

// IsFilterField reports whether f accepts multi-valued filters.
func (d *Descriptor) IsFilterField(f string) bool { return contains(d.FilterFields, f) }

// IsExtraColumn reports whether f may be requested as a display column.
func (d *Descriptor) IsExtraColumn(f string) bool { return contains(d.ExtraColumns, f) }

// SecondaryFields returns the search fields minus the primary field, in
// descending priority. These drive matched-field annotations.
func (d *Descriptor) SecondaryFields() []string {
	out := make([]string, 0, len(d.SearchFields))
	for _, f := range d.SearchFields {
		if f != d.PrimaryField {
			out = append(out, f)
		}
	}
	return out
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// BuiltIn returns the compiled-in descriptors for the six Dutch public
// spending registers. A YAML descriptor directory can override or extend
// these at startup.
func BuiltIn() []*Descriptor {
	return []*Descriptor{
		{
			Name:             "instrumenten",
			Table:            "instrumenten",
			AggregatedTable:  "instrumenten_aggregated",
			PrimaryField:     "ontvanger",
			YearField:        "begrotingsjaar",
			AmountField:      "bedrag",
			AmountMultiplier: 1000,
			SearchFields:     []string{"ontvanger", "regeling", "instrument", "begrotingsnaam", "artikel", "artikelonderdeel", "detail"},
			FilterFields:     []string{"begrotingsnaam", "artikel", "artikelonderdeel", "instrument", "regeling"},
			ExtraColumns:     []string{"regeling", "artikel", "artikelonderdeel", "instrument", "begrotingsnaam", "detail"},
			ViewColumns:      []string{"artikel", "regeling", "instrument", "begrotingsnaam"},
			Collection:       "instrumenten",
			LowerFields:      []string{"ontvanger"},
			GroupableFields:  []string{"regeling", "artikel", "instrument", "begrotingsnaam", "artikelonderdeel", "detail"},
			DefaultGroupBy:   "regeling",
		},
		{
			Name:             "apparaat",
			Table:            "apparaat",
			AggregatedTable:  "apparaat_aggregated",
			PrimaryField:     "kostensoort",
			YearField:        "begrotingsjaar",
			AmountField:      "bedrag",
			AmountMultiplier: 1000,
			SearchFields:     []string{"kostensoort", "begrotingsnaam", "artikel", "detail"},
			FilterFields:     []string{"begrotingsnaam", "artikel", "detail", "kostensoort"},
			ExtraColumns:     []string{"kostensoort", "artikel", "begrotingsnaam", "detail"},
			ViewColumns:      []string{"artikel", "detail"},
			Collection:       "apparaat",
			LowerFields:      []string{"kostensoort", "begrotingsnaam"},
			GroupableFields:  []string{"kostensoort", "artikel", "detail", "begrotingsnaam"},
			DefaultGroupBy:   "begrotingsnaam",
		},
		{
			Name:            "inkoop",
			Table:           "inkoop",
			AggregatedTable: "inkoop_aggregated",
			PrimaryField:    "leverancier",
			YearField:       "jaar",
			AmountField:     "totaal_avg",
			SearchFields:    []string{"leverancier", "ministerie", "categorie"},
			FilterFields:    []string{"ministerie", "categorie", "staffel"},
			ExtraColumns:    []string{"ministerie", "categorie", "staffel"},
			ViewColumns:     []string{"categorie", "staffel"},
			Collection:      "inkoop",
			LowerFields:     []string{"leverancier"},
			GroupableFields: []string{"ministerie", "categorie", "staffel"},
			DefaultGroupBy:  "ministerie",
		},
		{
			Name:            "provincie",
			Table:           "provincie",
			AggregatedTable: "provincie_aggregated",
			PrimaryField:    "ontvanger",
			YearField:       "jaar",
			AmountField:     "bedrag",
			SearchFields:    []string{"ontvanger", "omschrijving"},
			FilterFields:    []string{"provincie", "omschrijving"},
			ExtraColumns:    []string{"provincie", "omschrijving"},
			ViewColumns:     []string{"provincie", "omschrijving"},
			EntityField:     "provincie",
			Collection:      "provincie",
			LowerFields:     []string{"ontvanger"},
			GroupableFields: []string{"provincie", "omschrijving"},
			DefaultGroupBy:  "provincie",
		},
		{
			Name:            "gemeente",
			Table:           "gemeente",
			AggregatedTable: "gemeente_aggregated",
			PrimaryField:    "ontvanger",
			YearField:       "jaar",
			AmountField:     "bedrag",
			SearchFields:    []string{"ontvanger", "omschrijving", "regeling", "beleidsterrein"},
			FilterFields:    []string{"gemeente", "beleidsterrein", "regeling", "omschrijving"},
			ExtraColumns:    []string{"gemeente", "beleidsterrein", "regeling", "omschrijving"},
			ViewColumns:     []string{"gemeente", "omschrijving"},
			EntityField:     "gemeente",
			Collection:      "gemeente",
			LowerFields:     []string{"ontvanger"},
			GroupableFields: []string{"gemeente", "beleidsterrein", "regeling", "omschrijving"},
			DefaultGroupBy:  "gemeente",
		},
		{
			Name:            "publiek",
			Table:           "publiek",
			AggregatedTable: "publiek_aggregated",
			PrimaryField:    "ontvanger",
			YearField:       "jaar",
			AmountField:     "bedrag",
			SearchFields:    []string{"ontvanger", "omschrijving", "regeling", "trefwoorden", "sectoren"},
			FilterFields:    []string{"source", "regeling", "trefwoorden", "sectoren", "provincie", "onderdeel", "staffel"},
			ExtraColumns:    []string{"source", "regeling", "trefwoorden", "sectoren", "regio", "staffel", "onderdeel"},
			ViewColumns:     []string{"source"},
			EntityField:     "source",
			Collection:      "publiek",
			LowerFields:     []string{"ontvanger"},
			GroupableFields: []string{"source", "regeling", "sectoren", "trefwoorden"},
			DefaultGroupBy:  "source",
		},
	}
}
