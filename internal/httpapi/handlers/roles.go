package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/stratochat/stratochat/internal/common"
	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/models"
)

type roleCreateReq struct {
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	Permissions       models.Permissions `json:"permissions"`
	MaxChats          *int               `json:"max_chats"`
	MaxTokensPerMonth *int               `json:"max_tokens_per_month"`
	ContextLength     *int               `json:"context_length"`
}

func (h *Handler) roleNameTaken(c *gin.Context, name, excludeID string) (bool, bool) {
	page, err := h.KV.QueryByIndex(c.Request.Context(), models.TableRoles, models.IndexRoleName, name, kv.Query{})
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return false, false
	}
	for _, raw := range page.Items {
		var r models.Role
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		if r.ID != excludeID {
			return true, true
		}
	}
	return false, true
}

func (h *Handler) CreateRole(c *gin.Context) {
	admin, ok := h.requireAdmin(c)
	if !ok {
		return
	}
	var req roleCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Name == "" {
		failErr(c, common.InvalidArgumentf("role name required"))
		return
	}

	// non-atomic uniqueness check, same caveat as user registration
	taken, ok := h.roleNameTaken(c, req.Name, "")
	if !ok {
		return
	}
	if taken {
		failErr(c, common.Conflictf("role name %q already exists", req.Name))
		return
	}

	id, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to generate id")
		return
	}
	now := time.Now().UTC()
	role := models.Role{
		ID:                id,
		Name:              req.Name,
		Description:       req.Description,
		Permissions:       req.Permissions,
		MaxChats:          req.MaxChats,
		MaxTokensPerMonth: req.MaxTokensPerMonth,
		ContextLength:     req.ContextLength,
		CreatedBy:         admin.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.KV.Put(c.Request.Context(), models.TableRoles, role.ID, &role); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	common.OK(c, role)
}

func (h *Handler) ListRoles(c *gin.Context) {
	if _, ok := h.requireAdmin(c); !ok {
		return
	}
	docs, err := h.KV.Scan(c.Request.Context(), models.TableRoles, nil)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	roles := make([]models.Role, 0, len(docs))
	for _, raw := range docs {
		var r models.Role
		if err := json.Unmarshal(raw, &r); err != nil {
			common.Fail(c, http.StatusInternalServerError, 50001, "store error")
			return
		}
		roles = append(roles, r)
	}
	common.OK(c, gin.H{"roles": roles})
}

func (h *Handler) GetRole(c *gin.Context) {
	if _, ok := h.requireAdmin(c); !ok {
		return
	}
	id := c.Param("id")
	var role models.Role
	if err := h.KV.Get(c.Request.Context(), models.TableRoles, id, &role); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			failErr(c, common.NotFoundf("role %s not found", id))
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	common.OK(c, role)
}

type roleUpdateReq struct {
	Name              *string             `json:"name"`
	Description       *string             `json:"description"`
	Permissions       *models.Permissions `json:"permissions"`
	MaxChats          *int                `json:"max_chats"`
	MaxTokensPerMonth *int                `json:"max_tokens_per_month"`
	ContextLength     *int                `json:"context_length"`
}

func (h *Handler) UpdateRole(c *gin.Context) {
	if _, ok := h.requireAdmin(c); !ok {
		return
	}
	id := c.Param("id")

	var req roleUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Name == nil && req.Description == nil && req.Permissions == nil &&
		req.MaxChats == nil && req.MaxTokensPerMonth == nil && req.ContextLength == nil {
		failErr(c, common.InvalidArgumentf("empty update payload"))
		return
	}

	changes := map[string]any{"updated_at": time.Now().UTC()}
	if req.Name != nil {
		taken, ok := h.roleNameTaken(c, *req.Name, id)
		if !ok {
			return
		}
		if taken {
			failErr(c, common.Conflictf("role name %q already exists", *req.Name))
			return
		}
		changes["name"] = *req.Name
	}
	if req.Description != nil {
		changes["description"] = *req.Description
	}
	if req.Permissions != nil {
		changes["permissions"] = *req.Permissions
	}
	if req.MaxChats != nil {
		changes["max_chats"] = *req.MaxChats
	}
	if req.MaxTokensPerMonth != nil {
		changes["max_tokens_per_month"] = *req.MaxTokensPerMonth
	}
	if req.ContextLength != nil {
		changes["context_length"] = *req.ContextLength
	}

	var updated models.Role
	if err := h.KV.Update(c.Request.Context(), models.TableRoles, id, changes, &updated); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			failErr(c, common.NotFoundf("role %s not found", id))
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	h.invalidateLimits(c, id)
	common.OK(c, updated)
}

// DeleteRole removes the role record only. Users still referencing it
// keep their dangling custom_role and resolve to unlimited ceilings
// until reassigned.
func (h *Handler) DeleteRole(c *gin.Context) {
	if _, ok := h.requireAdmin(c); !ok {
		return
	}
	id := c.Param("id")
	if err := h.KV.Delete(c.Request.Context(), models.TableRoles, id); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			failErr(c, common.NotFoundf("role %s not found", id))
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	h.invalidateLimits(c, id)
	common.OK(c, gin.H{"deleted": id})
}

func (h *Handler) invalidateLimits(c *gin.Context, roleID string) {
	if h.Redis == nil {
		return
	}
	if err := h.Redis.InvalidateLimits(c.Request.Context(), roleID); err != nil {
		log.Warn().Err(err).Str("role_id", roleID).Msg("limits cache invalidation failed")
	}
}
