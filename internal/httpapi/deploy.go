package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"modelproxy/internal/manager"
	"modelproxy/pkg/types"
)

// decodeJSON enforces the JSON content type and body limit, then decodes
// into v. It writes the error response itself and reports success.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Oversized bodies also land here; the size is not disclosed.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func statusDTO(d manager.Deployment, authEnabled, withKey bool) types.DeploymentStatus {
	protected := authEnabled && d.APIKeyEnabled
	out := types.DeploymentStatus{
		UserID:        d.UserID,
		ModelName:     d.ModelName,
		Backend:       string(d.Backend),
		Status:        string(d.Status),
		BaseURL:       d.BaseURL,
		APIKeyEnabled: protected,
		CreatedAt:     d.CreatedAt.Unix(),
		UpdatedAt:     d.UpdatedAt.Unix(),
		ErrorMessage:  d.ErrorMessage,
	}
	if protected && withKey {
		out.APIKey = d.APIKey
	}
	if d.LoadedAt != nil {
		t := d.LoadedAt.Unix()
		out.LoadedAt = &t
	}
	return out
}

// deploy godoc
// @Summary      Deploy a model for a user
// @Description  Creates the user's deployment and starts loading in the background. Poll deployment-status for the outcome.
// @Tags         deployments
// @Accept       json
// @Produce      json
// @Param        body  body      types.DeployRequest  true  "Deploy request"
// @Success      200   {object}  types.DeployResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      415   {object}  types.ErrorResponse
// @Failure      429   {object}  types.ErrorResponse
// @Router       /api/v1/deploy-model [post]
func (h *handlers) deploy(w http.ResponseWriter, r *http.Request) {
	var req types.DeployRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	keyEnabled := true
	if req.APIKeyEnabled != nil {
		keyEnabled = *req.APIKeyEnabled
	}
	res, err := h.svc.Deploy(r.Context(), manager.DeployRequest{
		UserID:        req.UserID,
		ModelName:     req.ModelName,
		Backend:       req.Backend,
		APIKeyEnabled: keyEnabled,
		CustomConfig:  req.CustomConfig,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	d := res.Deployment
	msg := "Deployment started"
	if !res.Created {
		msg = "Deployment already exists"
	}
	writeJSON(w, http.StatusOK, types.DeployResponse{
		Message:       msg,
		UserID:        d.UserID,
		ModelName:     d.ModelName,
		Backend:       string(d.Backend),
		Status:        string(d.Status),
		APIKeyEnabled: h.svc.AuthEnabled() && d.APIKeyEnabled,
	})
}

// deploymentStatus godoc
// @Summary      Deployment status
// @Description  Includes the API key only when the deployment requires one.
// @Tags         deployments
// @Produce      json
// @Param        user_id  path      string  true  "User id"
// @Success      200      {object}  types.DeploymentStatus
// @Failure      404      {object}  types.ErrorResponse
// @Router       /api/v1/deployment-status/{user_id} [get]
func (h *handlers) deploymentStatus(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(chi.URLParam(r, "user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusDTO(d, h.svc.AuthEnabled(), true))
}

// listDeployments godoc
// @Summary      List all deployments
// @Tags         admin
// @Produce      json
// @Success      200  {object}  types.DeploymentsResponse
// @Router       /api/v1/deployments [get]
func (h *handlers) listDeployments(w http.ResponseWriter, r *http.Request) {
	list := h.svc.List()
	out := types.DeploymentsResponse{Deployments: make([]types.DeploymentStatus, 0, len(list)), Total: len(list)}
	auth := h.svc.AuthEnabled()
	for _, d := range list {
		out.Deployments = append(out.Deployments, statusDTO(d, auth, false))
	}
	writeJSON(w, http.StatusOK, out)
}

// stopDeployment godoc
// @Summary      Stop a deployment
// @Description  Releases the model and keeps the record as stopped.
// @Tags         deployments
// @Produce      json
// @Param        user_id  path      string  true  "User id"
// @Success      200      {object}  types.MessageResponse
// @Failure      404      {object}  types.ErrorResponse
// @Router       /api/v1/deployments/{user_id}/stop [post]
func (h *handlers) stopDeployment(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if _, err := h.svc.Stop(userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MessageResponse{Message: "Deployment stopped", UserID: userID})
}

// deleteDeployment godoc
// @Summary      Delete a deployment
// @Tags         deployments
// @Produce      json
// @Param        user_id  path      string  true  "User id"
// @Success      200      {object}  types.MessageResponse
// @Failure      404      {object}  types.ErrorResponse
// @Router       /api/v1/deployments/{user_id} [delete]
func (h *handlers) deleteDeployment(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if err := h.svc.Delete(userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MessageResponse{Message: "Deployment deleted", UserID: userID})
}
