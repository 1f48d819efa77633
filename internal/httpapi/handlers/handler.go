package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stratochat/stratochat/internal/chat"
	"github.com/stratochat/stratochat/internal/common"
	"github.com/stratochat/stratochat/internal/config"
	"github.com/stratochat/stratochat/internal/httpapi/middleware"
	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/limits"
	"github.com/stratochat/stratochat/internal/models"
	"github.com/stratochat/stratochat/internal/store/rabbitmq"
	"github.com/stratochat/stratochat/internal/store/redisstore"
)

type Handler struct {
	KV      *kv.Store
	Cfg     config.Config
	Redis   *redisstore.Store
	Limits  *limits.Resolver
	Tracker *limits.Tracker
	Chats   *chat.Store
	Rabbit  *rabbitmq.Publisher
}

// NewHandler wires the service graph. rds and rabbit may be nil; the
// resolver then skips caching and appends skip job publishing.
func NewHandler(kvs *kv.Store, cfg config.Config, rds *redisstore.Store, rabbit *rabbitmq.Publisher) *Handler {
	var cache limits.Cache
	if rds != nil {
		cache = rds
	}
	resolver := limits.NewResolver(kvs, cache)
	return &Handler{
		KV:      kvs,
		Cfg:     cfg,
		Redis:   rds,
		Limits:  resolver,
		Tracker: limits.NewTracker(kvs, resolver),
		Chats:   chat.NewStore(kvs, resolver, cfg.ChatListLimit),
		Rabbit:  rabbit,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// currentUser loads the authenticated user's document. It writes the
// failure response itself when the lookup fails.
func (h *Handler) currentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return nil, false
	}
	uid, ok := v.(string)
	if !ok || uid == "" {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return nil, false
	}

	var user models.User
	if err := h.KV.Get(c.Request.Context(), models.TableUsers, uid, &user); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			common.Fail(c, http.StatusUnauthorized, 40103, "user no longer exists")
			return nil, false
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "store error")
		return nil, false
	}
	return &user, true
}

func (h *Handler) requireAdmin(c *gin.Context) (*models.User, bool) {
	user, ok := h.currentUser(c)
	if !ok {
		return nil, false
	}
	if !user.IsAdmin() {
		common.Fail(c, http.StatusForbidden, 40301, "admin capability required")
		return nil, false
	}
	return user, true
}

// failErr maps the error taxonomy onto HTTP statuses and the response
// envelope's business codes.
func failErr(c *gin.Context, err error) {
	switch common.KindOf(err) {
	case common.KindNotFound:
		common.Fail(c, http.StatusNotFound, 40400, err.Error())
	case common.KindForbidden:
		common.Fail(c, http.StatusForbidden, 40300, err.Error())
	case common.KindQuotaExceeded:
		common.Fail(c, http.StatusTooManyRequests, 42900, err.Error())
	case common.KindInvalidArgument:
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	case common.KindConflict:
		common.Fail(c, http.StatusConflict, 40900, err.Error())
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
