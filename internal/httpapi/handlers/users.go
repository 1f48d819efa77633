package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stratochat/stratochat/internal/common"
	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/metrics"
	"github.com/stratochat/stratochat/internal/models"
)

const minSearchLen = 2

func (h *Handler) ListUsers(c *gin.Context) {
	if _, ok := h.requireAdmin(c); !ok {
		return
	}
	docs, err := h.KV.Scan(c.Request.Context(), models.TableUsers, nil)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	views := make([]models.UserView, 0, len(docs))
	for _, raw := range docs {
		var u models.User
		if err := json.Unmarshal(raw, &u); err != nil {
			common.Fail(c, http.StatusInternalServerError, 50001, "store error")
			return
		}
		views = append(views, u.View())
	}
	common.OK(c, gin.H{"users": views})
}

// SearchUsers finds active users by name or email substring, for
// starting direct chats. The requester is excluded from results.
func (h *Handler) SearchUsers(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	q := strings.ToLower(strings.TrimSpace(c.Query("q")))
	if len(q) < minSearchLen {
		failErr(c, common.InvalidArgumentf("search query must be at least %d characters", minSearchLen))
		return
	}

	docs, err := h.KV.Scan(c.Request.Context(), models.TableUsers, func(raw json.RawMessage) bool {
		var u models.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return false
		}
		if u.ID == user.ID || u.Status != models.StatusActive {
			return false
		}
		return strings.Contains(strings.ToLower(u.Name), q) ||
			strings.Contains(strings.ToLower(u.Email), q)
	})
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}

	views := make([]models.UserView, 0, len(docs))
	for _, raw := range docs {
		var u models.User
		if err := json.Unmarshal(raw, &u); err != nil {
			continue
		}
		views = append(views, u.View())
	}
	common.OK(c, gin.H{"users": views})
}

type updateProfileReq struct {
	Name *string `json:"name"`
	Bio  *string `json:"bio"`
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req updateProfileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Name == nil && req.Bio == nil {
		failErr(c, common.InvalidArgumentf("empty update payload"))
		return
	}

	changes := map[string]any{"updated_at": time.Now().UTC()}
	if req.Name != nil {
		changes["name"] = *req.Name
	}
	if req.Bio != nil {
		changes["bio"] = *req.Bio
	}

	var updated models.User
	if err := h.KV.Update(c.Request.Context(), models.TableUsers, user.ID, changes, &updated); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	common.OK(c, updated.View())
}

type recordUsageReq struct {
	Tokens int `json:"tokens"`
}

// RecordUsage adds to the caller's monthly token counter, rejecting
// increments that would pass the role's monthly budget.
func (h *Handler) RecordUsage(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req recordUsageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	updated, err := h.Tracker.Record(c.Request.Context(), user, req.Tokens)
	if err != nil {
		if common.IsKind(err, common.KindQuotaExceeded) {
			metrics.Global().QuotaRejections.Inc()
		}
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{
		"tokens_used_this_month": updated.TokensUsedThisMonth,
		"usage_reset_at":         updated.UsageResetAt,
	})
}

type adminUpdateUserReq struct {
	Status     *string `json:"status"`
	Role       *string `json:"role"`
	CustomRole *string `json:"custom_role"`
}

func (h *Handler) AdminUpdateUser(c *gin.Context) {
	if _, ok := h.requireAdmin(c); !ok {
		return
	}
	id := c.Param("id")

	var req adminUpdateUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Status == nil && req.Role == nil && req.CustomRole == nil {
		failErr(c, common.InvalidArgumentf("empty update payload"))
		return
	}

	changes := map[string]any{"updated_at": time.Now().UTC()}
	if req.Status != nil {
		switch *req.Status {
		case models.StatusPending, models.StatusActive, models.StatusSuspended:
		default:
			failErr(c, common.InvalidArgumentf("unknown status %q", *req.Status))
			return
		}
		changes["status"] = *req.Status
	}
	if req.Role != nil {
		switch *req.Role {
		case models.RoleTagUser, models.RoleTagAdmin:
		default:
			failErr(c, common.InvalidArgumentf("unknown role %q", *req.Role))
			return
		}
		changes["role"] = *req.Role
	}
	if req.CustomRole != nil {
		if *req.CustomRole == "" {
			changes["custom_role"] = nil
		} else {
			var role models.Role
			if err := h.KV.Get(c.Request.Context(), models.TableRoles, *req.CustomRole, &role); err != nil {
				if errors.Is(err, kv.ErrNotFound) {
					failErr(c, common.NotFoundf("role %s not found", *req.CustomRole))
					return
				}
				common.Fail(c, http.StatusInternalServerError, 50001, "store error")
				return
			}
			changes["custom_role"] = *req.CustomRole
		}
	}

	var updated models.User
	if err := h.KV.Update(c.Request.Context(), models.TableUsers, id, changes, &updated); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			failErr(c, common.NotFoundf("user %s not found", id))
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	common.OK(c, updated.View())
}

func (h *Handler) AdminDeleteUser(c *gin.Context) {
	admin, ok := h.requireAdmin(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if id == admin.ID {
		failErr(c, common.InvalidArgumentf("cannot delete your own account"))
		return
	}
	if err := h.KV.Delete(c.Request.Context(), models.TableUsers, id); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			failErr(c, common.NotFoundf("user %s not found", id))
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	common.OK(c, gin.H{"deleted": id})
}
