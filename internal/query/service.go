package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
	"github.com/geldstroom-lab/project-geldstroom/internal/search"
	"github.com/shopspring/decimal"
)

const (
	maxLimit  = 500
	maxOffset = 10000

	// candidateLimit caps how many primary keys the index step may feed
	// into the relational IN-lookup; generous enough for an accurate
	// count, bounded enough to keep the statement cheap.
	candidateLimit = 1000

	defaultQueryTimeout = 10 * time.Second
)

// Index is the text-search half of hybrid search. Implementations never
// return errors: a degraded index yields empty results and the planner
// falls back to the relational pattern match.
type Index interface {
	Configured() bool
	CandidateKeys(ctx context.Context, d *dataset.Descriptor, searchInput string, limit int) ([]string, map[string]search.FieldMatch)
	RecipientKeys(ctx context.Context, searchInput string, limit int) []string
	Autocomplete(ctx context.Context, d *dataset.Descriptor, searchInput string, limit int) search.Suggestions
	RecipientSuggestions(ctx context.Context, searchInput string, limit int) []search.Suggestion
}

// Service is the query-planning engine. It holds no per-request state;
// one instance serves all concurrent requests.
type Service struct {
	db           *sql.DB
	registry     *dataset.Registry
	index        Index
	queryTimeout time.Duration

	availability availabilityCache
}

// NewService wires the engine to its two back-ends. queryTimeout bounds
// every relational call; the index client carries its own, shorter,
// timeout.
func NewService(db *sql.DB, registry *dataset.Registry, index Index, queryTimeout time.Duration) *Service {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Service{
		db:           db,
		registry:     registry,
		index:        index,
		queryTimeout: queryTimeout,
	}
}

// Registry exposes the dataset registry to the API layer.
func (s *Service) Registry() *dataset.Registry { return s.registry }

// dbCtx derives the bounded context used for one relational call.
func (s *Service) dbCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

// fetchCount runs a COUNT(*) query.
func (s *Service) fetchCount(ctx context.Context, query string, args []interface{}) (int64, error) {
	ctx, cancel := s.dbCtx(ctx)
	defer cancel()

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	return count, nil
}

// fetchTotals runs a totals query: one per-year sum column per fixed year
// followed by the grand total. NULL sums (empty population) read as zero.
func (s *Service) fetchTotals(ctx context.Context, query string, args []interface{}) (*Totals, error) {
	ctx, cancel := s.dbCtx(ctx)
	defer cancel()

	sums := make([]decimal.NullDecimal, len(dataset.Years)+1)
	dest := make([]interface{}, len(sums))
	for i := range sums {
		dest[i] = &sums[i]
	}

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("totals query: %w", err)
	}

	totals := &Totals{Years: make(map[int]int64, len(dataset.Years))}
	for i, y := range dataset.Years {
		totals.Years[y] = decimalInt(sums[i])
	}
	totals.Totaal = decimalInt(sums[len(dataset.Years)])
	return totals, nil
}

// decimalInt converts a nullable numeric scan to whole euros.
func decimalInt(d decimal.NullDecimal) int64 {
	if !d.Valid {
		return 0
	}
	return d.Decimal.IntPart()
}
