package query

import (
	"context"
	"log/slog"
	"sync"

	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
)

type yearRange struct {
	From int
	To   int
}

// availabilityCache memoizes coverage ranges from the availability table.
// They change only on ingest, so a duplicate fill under concurrent misses
// is harmless and cheaper than a lock.
type availabilityCache struct {
	datasets sync.Map // dataset name -> yearRange
	entities sync.Map // dataset name -> map[string]yearRange
}

// datasetAvailability returns a dataset's coverage range, or nil bounds
// when the availability table has no row for it.
func (s *Service) datasetAvailability(ctx context.Context, name string) (*int, *int) {
	if v, ok := s.availability.datasets.Load(name); ok {
		r := v.(yearRange)
		return &r.From, &r.To
	}

	ctx, cancel := s.dbCtx(ctx)
	defer cancel()

	var r yearRange
	err := s.db.QueryRowContext(ctx,
		"SELECT year_from, year_to FROM data_availability WHERE module = $1 AND entity_type IS NULL",
		name).Scan(&r.From, &r.To)
	if err != nil {
		return nil, nil
	}
	s.availability.datasets.Store(name, r)
	return &r.From, &r.To
}

// entityAvailability returns per-entity coverage ranges for an
// entity-partitioned dataset.
func (s *Service) entityAvailability(ctx context.Context, d *dataset.Descriptor) map[string]yearRange {
	if v, ok := s.availability.entities.Load(d.Name); ok {
		return v.(map[string]yearRange)
	}

	ctx, cancel := s.dbCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT entity_name, year_from, year_to FROM data_availability WHERE module = $1 AND entity_type = $2",
		d.Name, d.EntityField)
	if err != nil {
		slog.Warn("Entity availability lookup failed", "dataset", d.Name, "error", err)
		return nil
	}
	defer rows.Close()

	out := make(map[string]yearRange)
	for rows.Next() {
		var name string
		var r yearRange
		if err := rows.Scan(&name, &r.From, &r.To); err != nil {
			slog.Warn("Entity availability scan failed", "dataset", d.Name, "error", err)
			return nil
		}
		out[name] = r
	}
	if err := rows.Err(); err != nil {
		slog.Warn("Entity availability lookup failed", "dataset", d.Name, "error", err)
		return nil
	}
	s.availability.entities.Store(d.Name, out)
	return out
}

// allDatasetAvailability loads module-level coverage for every dataset in
// one statement; missing datasets default to the full fixed period.
func (s *Service) allDatasetAvailability(ctx context.Context) map[string]yearRange {
	out := make(map[string]yearRange)

	ctx, cancel := s.dbCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT module, year_from, year_to FROM data_availability WHERE entity_type IS NULL")
	if err != nil {
		slog.Warn("Availability lookup failed", "error", err)
	} else {
		defer rows.Close()
		for rows.Next() {
			var name string
			var r yearRange
			if err := rows.Scan(&name, &r.From, &r.To); err != nil {
				slog.Warn("Availability scan failed", "error", err)
				break
			}
			out[name] = r
		}
		if err := rows.Err(); err != nil {
			slog.Warn("Availability lookup failed", "error", err)
		}
	}

	full := yearRange{From: dataset.Years[0], To: dataset.Years[len(dataset.Years)-1]}
	for _, name := range s.registry.Names() {
		if _, ok := out[name]; !ok {
			out[name] = full
		}
	}
	return out
}

// injectAvailability stamps each row with its coverage range. Entity
// datasets filtered to a single entity use that entity's own range; any
// other entity-dataset request assumes the full period. Plain datasets
// share one module-level range.
func (s *Service) injectAvailability(ctx context.Context, d *dataset.Descriptor, filters map[string][]string, rows []Row) {
	if len(rows) == 0 {
		return
	}

	if d.EntityField != "" {
		from := dataset.Years[0]
		to := dataset.Years[len(dataset.Years)-1]
		if entityFilter := filters[d.EntityField]; len(entityFilter) == 1 {
			if avail, ok := s.entityAvailability(ctx, d)[entityFilter[0]]; ok {
				from, to = avail.From, avail.To
			}
		}
		for i := range rows {
			f, t := from, to
			rows[i].DataAvailableFrom = &f
			rows[i].DataAvailableTo = &t
		}
		return
	}

	from, to := s.datasetAvailability(ctx, d.Name)
	for i := range rows {
		rows[i].DataAvailableFrom = from
		rows[i].DataAvailableTo = to
	}
}
