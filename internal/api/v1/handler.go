package v1

import (
	"net/http"
	"strings"

	httperr "github.com/geldstroom-lab/project-geldstroom/internal/core/errors"
	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
	"github.com/geldstroom-lab/project-geldstroom/internal/query"
	"github.com/geldstroom-lab/project-geldstroom/internal/search"
	"github.com/gin-gonic/gin"
)

// Handler exposes the query engine over HTTP. All endpoints are read-only
// GETs; state-changing verbs do not exist in this API.
type Handler struct {
	svc *query.Service
}

func NewHandler(svc *query.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers all query API routes on the given router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/datasets", h.HandleListDatasets)
	r.GET("/v1/datasets/:module/data", h.HandleQuery)
	r.GET("/v1/datasets/:module/filters", h.HandleCascadingFilters)
	r.GET("/v1/datasets/:module/filters/:field", h.HandleFilterOptions)
	r.GET("/v1/datasets/:module/details", h.HandleDetails)
	r.GET("/v1/datasets/:module/grouping-counts", h.HandleGroupingCounts)
	r.GET("/v1/datasets/:module/autocomplete", h.HandleAutocomplete)
	r.GET("/v1/datasets/:module/stats", h.HandleStats)
}

// queryRequest carries the shared query-string surface of the data
// endpoint. Filter fields are not listed here: any further query
// parameter that names a registered filter field is collected separately.
type queryRequest struct {
	Search     string   `form:"search"`
	Year       int      `form:"jaar"`
	MinAmount  *float64 `form:"min_bedrag"`
	MaxAmount  *float64 `form:"max_bedrag"`
	SortBy     string   `form:"sort_by"`
	SortOrder  string   `form:"sort_order"`
	Limit      int      `form:"limit"`
	Offset     int      `form:"offset"`
	MinYears   int      `form:"min_years"`
	Columns    string   `form:"columns"`
	Datasets   string   `form:"modules"`
	Betalingen string   `form:"betalingen"`
}

// queryResponse is the envelope of the data endpoint.
type queryResponse struct {
	Rows   []query.Row   `json:"rows"`
	Total  int64         `json:"total"`
	Totals *query.Totals `json:"totals,omitempty"`
}

// HandleQuery handles GET /v1/datasets/:module/data, covering both the
// per-dataset views and the cross-dataset view.
func (h *Handler) HandleQuery(c *gin.Context) {
	module := c.Param("module")

	var req queryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	if module == dataset.CrossDatasetName {
		p := query.CrossParams{
			Search:        req.Search,
			Year:          req.Year,
			MinAmount:     req.MinAmount,
			MaxAmount:     req.MaxAmount,
			SortBy:        req.SortBy,
			SortOrder:     req.SortOrder,
			Limit:         req.Limit,
			Offset:        req.Offset,
			MinYears:      req.MinYears,
			Datasets:      splitList(req.Datasets),
			RecordBracket: req.Betalingen,
			Columns:       splitList(req.Columns),
		}
		result, err := h.svc.FetchCrossDataset(c.Request.Context(), p)
		if err != nil {
			h.writeError(c, err, "Failed to query cross-dataset view")
			return
		}
		c.JSON(http.StatusOK, queryResponse{Rows: emptyIfNil(result.Rows), Total: result.Total, Totals: result.Totals})
		return
	}

	p := query.Params{
		Search:    req.Search,
		Year:      req.Year,
		MinAmount: req.MinAmount,
		MaxAmount: req.MaxAmount,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
		Limit:     req.Limit,
		Offset:    req.Offset,
		MinYears:  req.MinYears,
		Filters:   h.collectFilters(c, module),
		Columns:   splitList(req.Columns),
	}
	result, err := h.svc.Fetch(c.Request.Context(), module, p)
	if err != nil {
		h.writeError(c, err, "Failed to query dataset")
		return
	}
	c.JSON(http.StatusOK, queryResponse{Rows: emptyIfNil(result.Rows), Total: result.Total, Totals: result.Totals})
}

// HandleListDatasets handles GET /v1/datasets.
func (h *Handler) HandleListDatasets(c *gin.Context) {
	type datasetInfo struct {
		Name            string   `json:"name"`
		PrimaryField    string   `json:"primary_field"`
		FilterFields    []string `json:"filter_fields,omitempty"`
		ExtraColumns    []string `json:"extra_columns,omitempty"`
		GroupableFields []string `json:"groupable_fields,omitempty"`
		EntityField     string   `json:"entity_field,omitempty"`
	}
	out := make([]datasetInfo, 0)
	for _, d := range h.svc.Registry().Descriptors() {
		out = append(out, datasetInfo{
			Name:            d.Name,
			PrimaryField:    d.PrimaryField,
			FilterFields:    d.FilterFields,
			ExtraColumns:    d.ExtraColumns,
			GroupableFields: d.GroupableFields,
			EntityField:     d.EntityField,
		})
	}
	c.JSON(http.StatusOK, gin.H{"datasets": out})
}

// HandleFilterOptions handles GET /v1/datasets/:module/filters/:field.
func (h *Handler) HandleFilterOptions(c *gin.Context) {
	values, err := h.svc.FilterOptions(c.Request.Context(), c.Param("module"), c.Param("field"))
	if err != nil {
		h.writeError(c, err, "Failed to load filter options")
		return
	}
	if values == nil {
		values = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"values": values})
}

// HandleCascadingFilters handles GET /v1/datasets/:module/filters. Every
// query parameter naming a registered filter field is an active selection
// constraining the other fields' options.
func (h *Handler) HandleCascadingFilters(c *gin.Context) {
	module := c.Param("module")
	options, err := h.svc.CascadingFilterOptions(c.Request.Context(), module, h.collectFilters(c, module))
	if err != nil {
		h.writeError(c, err, "Failed to load filter options")
		return
	}
	c.JSON(http.StatusOK, gin.H{"options": options})
}

// HandleDetails handles GET /v1/datasets/:module/details: the per-group
// breakdown of one recipient, or the per-dataset breakdown on the
// cross-dataset view.
func (h *Handler) HandleDetails(c *gin.Context) {
	var req struct {
		PrimaryValue string `form:"primary_value" binding:"required"`
		GroupBy      string `form:"group_by"`
		Year         int    `form:"jaar"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	module := c.Param("module")
	var rows []query.DetailRow
	var err error
	if module == dataset.CrossDatasetName {
		rows, err = h.svc.CrossDatasetDetails(c.Request.Context(), req.PrimaryValue, req.Year)
	} else {
		rows, err = h.svc.RowDetails(c.Request.Context(), module, req.PrimaryValue, req.GroupBy, req.Year)
	}
	if err != nil {
		h.writeError(c, err, "Failed to load details")
		return
	}
	if rows == nil {
		rows = []query.DetailRow{}
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

// HandleGroupingCounts handles GET /v1/datasets/:module/grouping-counts.
func (h *Handler) HandleGroupingCounts(c *gin.Context) {
	primaryValue := c.Query("primary_value")
	if primaryValue == "" {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   "primary_value is required",
		})
		return
	}
	counts, err := h.svc.GroupingCounts(c.Request.Context(), c.Param("module"), primaryValue)
	if err != nil {
		h.writeError(c, err, "Failed to load grouping counts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

const (
	minAutocompleteQuery = 2
	maxAutocompleteQuery = 200
	maxAutocompleteLimit = 10
)

// HandleAutocomplete handles GET /v1/datasets/:module/autocomplete.
func (h *Handler) HandleAutocomplete(c *gin.Context) {
	var req struct {
		Query string `form:"q" binding:"required"`
		Limit int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}
	if len(req.Query) < minAutocompleteQuery || len(req.Query) > maxAutocompleteQuery {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   "q must be between 2 and 200 characters",
		})
		return
	}
	if req.Limit < 1 || req.Limit > maxAutocompleteLimit {
		req.Limit = 5
	}

	module := c.Param("module")
	if module == dataset.CrossDatasetName {
		hits := h.svc.RecipientSuggestions(c.Request.Context(), req.Query, req.Limit)
		c.JSON(http.StatusOK, gin.H{"current_module": suggestionsJSON(hits)})
		return
	}

	out, err := h.svc.Autocomplete(c.Request.Context(), module, req.Query, req.Limit)
	if err != nil {
		h.writeError(c, err, "Failed to load suggestions")
		return
	}
	fieldMatches := make([]gin.H, 0, len(out.FieldMatches))
	for _, m := range out.FieldMatches {
		fieldMatches = append(fieldMatches, gin.H{"value": m.Value, "field": m.Field})
	}
	c.JSON(http.StatusOK, gin.H{
		"current_module": suggestionsJSON(out.CurrentDataset),
		"field_matches":  fieldMatches,
		"other_modules":  suggestionsJSON(out.OtherDatasets),
	})
}

// HandleStats handles GET /v1/datasets/:module/stats.
func (h *Handler) HandleStats(c *gin.Context) {
	stats, err := h.svc.DatasetStats(c.Request.Context(), c.Param("module"))
	if err != nil {
		h.writeError(c, err, "Failed to load stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// collectFilters gathers multi-valued filter selections from the query
// string: any parameter whose name is a registered filter or entity field
// of the dataset.
func (h *Handler) collectFilters(c *gin.Context, module string) map[string][]string {
	d, err := h.svc.Registry().Get(module)
	if err != nil {
		return nil
	}
	filters := make(map[string][]string)
	for _, field := range d.FilterFields {
		if values := c.QueryArray(field); len(values) > 0 {
			filters[field] = values
		}
	}
	if d.EntityField != "" && !d.IsFilterField(d.EntityField) {
		if values := c.QueryArray(d.EntityField); len(values) > 0 {
			filters[d.EntityField] = values
		}
	}
	return filters
}

// writeError maps a query-layer failure to a response. Validation errors
// carry their message; anything else returns a generic message so back-end
// details never leak to callers.
func (h *Handler) writeError(c *gin.Context, err error, message string) {
	if httperr.IsValidation(err) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   message,
	})
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func emptyIfNil(rows []query.Row) []query.Row {
	if rows == nil {
		return []query.Row{}
	}
	return rows
}

type suggestionJSON struct {
	Name      string   `json:"name"`
	Totaal    int64    `json:"totaal"`
	Modules   []string `json:"modules,omitempty"`
	MatchType string   `json:"match_type,omitempty"`
}

func suggestionsJSON(in []search.Suggestion) []suggestionJSON {
	out := make([]suggestionJSON, 0, len(in))
	for _, s := range in {
		out = append(out, suggestionJSON{
			Name:      s.Name,
			Totaal:    s.Totaal,
			Modules:   s.Datasets,
			MatchType: s.MatchType,
		})
	}
	return out
}
