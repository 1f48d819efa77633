package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stratochat/stratochat/internal/common"
	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/models"
)

type modelCreateReq struct {
	Name            string                `json:"name"`
	Provider        string                `json:"provider"`
	IntegrationType string                `json:"integration_type"`
	EndpointURL     string                `json:"endpoint_url"`
	AuthProfile     string                `json:"auth_profile"`
	APIKey          string                `json:"api_key"`
	CustomHeaders   []models.CustomHeader `json:"custom_headers"`
	IsActive        *bool                 `json:"is_active"`
	Config          map[string]any        `json:"config"`
}

func (h *Handler) CreateModel(c *gin.Context) {
	if _, ok := h.requireAdmin(c); !ok {
		return
	}
	var req modelCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Name == "" || req.EndpointURL == "" {
		failErr(c, common.InvalidArgumentf("name and endpoint_url required"))
		return
	}
	switch req.IntegrationType {
	case "":
		req.IntegrationType = models.IntegrationEasy
	case models.IntegrationEasy, models.IntegrationCustom:
	default:
		failErr(c, common.InvalidArgumentf("unknown integration type %q", req.IntegrationType))
		return
	}

	id, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to generate id")
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	now := time.Now().UTC()
	m := models.Model{
		ID:              id,
		Name:            req.Name,
		Provider:        req.Provider,
		IntegrationType: req.IntegrationType,
		EndpointURL:     req.EndpointURL,
		AuthProfile:     req.AuthProfile,
		APIKey:          req.APIKey,
		CustomHeaders:   req.CustomHeaders,
		IsActive:        active,
		Config:          req.Config,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.KV.Put(c.Request.Context(), models.TableModels, m.ID, &m); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	common.OK(c, m.View())
}

// ListModels returns every model for admins, active models only for
// everyone else. API keys never leave the process either way.
func (h *Handler) ListModels(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	docs, err := h.KV.Scan(c.Request.Context(), models.TableModels, nil)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	views := make([]models.ModelView, 0, len(docs))
	for _, raw := range docs {
		var m models.Model
		if err := json.Unmarshal(raw, &m); err != nil {
			common.Fail(c, http.StatusInternalServerError, 50001, "store error")
			return
		}
		if !m.IsActive && !user.IsAdmin() {
			continue
		}
		views = append(views, m.View())
	}
	common.OK(c, gin.H{"models": views})
}

type modelUpdateReq struct {
	Name            *string                `json:"name"`
	Provider        *string                `json:"provider"`
	IntegrationType *string                `json:"integration_type"`
	EndpointURL     *string                `json:"endpoint_url"`
	AuthProfile     *string                `json:"auth_profile"`
	APIKey          *string                `json:"api_key"`
	CustomHeaders   *[]models.CustomHeader `json:"custom_headers"`
	IsActive        *bool                  `json:"is_active"`
	Config          *map[string]any        `json:"config"`
}

func (h *Handler) UpdateModel(c *gin.Context) {
	if _, ok := h.requireAdmin(c); !ok {
		return
	}
	id := c.Param("id")

	var req modelUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	changes := map[string]any{"updated_at": time.Now().UTC()}
	if req.Name != nil {
		changes["name"] = *req.Name
	}
	if req.Provider != nil {
		changes["provider"] = *req.Provider
	}
	if req.IntegrationType != nil {
		switch *req.IntegrationType {
		case models.IntegrationEasy, models.IntegrationCustom:
		default:
			failErr(c, common.InvalidArgumentf("unknown integration type %q", *req.IntegrationType))
			return
		}
		changes["integration_type"] = *req.IntegrationType
	}
	if req.EndpointURL != nil {
		changes["endpoint_url"] = *req.EndpointURL
	}
	if req.AuthProfile != nil {
		changes["auth_profile"] = *req.AuthProfile
	}
	if req.APIKey != nil {
		changes["api_key"] = *req.APIKey
	}
	if req.CustomHeaders != nil {
		changes["custom_headers"] = *req.CustomHeaders
	}
	if req.IsActive != nil {
		changes["is_active"] = *req.IsActive
	}
	if req.Config != nil {
		changes["config"] = *req.Config
	}
	if len(changes) == 1 {
		failErr(c, common.InvalidArgumentf("empty update payload"))
		return
	}

	var updated models.Model
	if err := h.KV.Update(c.Request.Context(), models.TableModels, id, changes, &updated); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			failErr(c, common.NotFoundf("model %s not found", id))
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	common.OK(c, updated.View())
}

func (h *Handler) DeleteModel(c *gin.Context) {
	if _, ok := h.requireAdmin(c); !ok {
		return
	}
	id := c.Param("id")
	if err := h.KV.Delete(c.Request.Context(), models.TableModels, id); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			failErr(c, common.NotFoundf("model %s not found", id))
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	common.OK(c, gin.H{"deleted": id})
}
