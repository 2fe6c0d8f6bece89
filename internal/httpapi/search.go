package httpapi

import (
	"net/http"

	"modelproxy/internal/search"
	"modelproxy/pkg/types"
)

// searchModels godoc
// @Summary      Search the model hub
// @Description  Results are cached; when the hub is unreachable a fixed list is returned with fallback=true.
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        body  body      types.SearchRequest  true  "Search request"
// @Success      200   {object}  types.SearchResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      503   {object}  types.ErrorResponse
// @Router       /api/v1/search-models [post]
func (h *handlers) searchModels(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "model search is disabled")
		return
	}
	var req types.SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	compatible := true
	if req.FilterCompatible != nil {
		compatible = *req.FilterCompatible
	}
	res, err := h.search.Search(r.Context(), search.Query{Text: req.Query, Limit: req.Limit, FilterCompatible: compatible})
	if err != nil {
		writeError(w, err)
		return
	}
	models := res.Models
	if models == nil {
		models = []types.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, types.SearchResponse{
		Models:   models,
		Total:    len(models),
		Query:    req.Query,
		Fallback: res.Fallback,
	})
}
