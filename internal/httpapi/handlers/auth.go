package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stratochat/stratochat/internal/auth"
	"github.com/stratochat/stratochat/internal/common"
	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/models"
)

const tokenTTL = 24 * time.Hour

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type registerReq struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Bio      string `json:"bio"`
	Password string `json:"password"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Email == "" || req.Name == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email, name and password required")
		return
	}
	if !emailPattern.MatchString(req.Email) {
		failErr(c, common.InvalidArgumentf("invalid email address"))
		return
	}

	// check-then-insert: two racing registrations can both pass this
	// lookup; duplicates are an accepted race, not handled here
	page, err := h.KV.QueryByIndex(c.Request.Context(), models.TableUsers, models.IndexUserEmail, req.Email, kv.Query{Limit: 1})
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	if len(page.Items) > 0 {
		failErr(c, common.Conflictf("email %s already registered", req.Email))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to hash password")
		return
	}
	id, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to generate id")
		return
	}

	now := time.Now().UTC()
	user := models.User{
		ID:           id,
		Email:        req.Email,
		Name:         req.Name,
		Bio:          req.Bio,
		Role:         models.RoleTagUser,
		Status:       models.StatusPending,
		PasswordHash: hash,
		UsageResetAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.KV.Put(c.Request.Context(), models.TableUsers, user.ID, &user); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}

	// account stays pending until an admin activates it; no token yet
	common.OK(c, user.View())
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}

	page, err := h.KV.QueryByIndex(c.Request.Context(), models.TableUsers, models.IndexUserEmail, req.Email, kv.Query{Limit: 1})
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	if len(page.Items) == 0 {
		common.Fail(c, http.StatusUnauthorized, 40104, "invalid credentials")
		return
	}

	var user models.User
	if err := json.Unmarshal(page.Items[0], &user); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40104, "invalid credentials")
		return
	}
	if user.Status != models.StatusActive {
		common.Fail(c, http.StatusForbidden, 40302, "account is "+user.Status)
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, tokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to sign token")
		return
	}

	common.OK(c, gin.H{
		"token": token,
		"user":  user.View(),
	})
}

func (h *Handler) Me(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	l, err := h.Limits.Resolve(c.Request.Context(), user)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{
		"user":                   user.View(),
		"limits":                 l,
		"tokens_used_this_month": user.TokensUsedThisMonth,
	})
}
