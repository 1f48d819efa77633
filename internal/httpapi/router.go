package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stratochat/stratochat/internal/common"
	"github.com/stratochat/stratochat/internal/config"
	"github.com/stratochat/stratochat/internal/httpapi/handlers"
	"github.com/stratochat/stratochat/internal/httpapi/middleware"
	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/store/rabbitmq"
	"github.com/stratochat/stratochat/internal/store/redisstore"
)

func NewRouter(kvs *kv.Store, cfg config.Config, rds *redisstore.Store, rabbit *rabbitmq.Publisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(kvs, cfg, rds, rabbit)

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))

	authGroup.GET("/me", h.Me)
	authGroup.PUT("/me", h.UpdateProfile)
	authGroup.POST("/me/usage", h.RecordUsage)

	authGroup.GET("/users", h.ListUsers)
	authGroup.GET("/users/search", h.SearchUsers)
	authGroup.PUT("/users/:id", h.AdminUpdateUser)
	authGroup.DELETE("/users/:id", h.AdminDeleteUser)

	authGroup.POST("/roles", h.CreateRole)
	authGroup.GET("/roles", h.ListRoles)
	authGroup.GET("/roles/:id", h.GetRole)
	authGroup.PUT("/roles/:id", h.UpdateRole)
	authGroup.DELETE("/roles/:id", h.DeleteRole)

	authGroup.GET("/models", h.ListModels)
	authGroup.POST("/models", h.CreateModel)
	authGroup.PUT("/models/:id", h.UpdateModel)
	authGroup.DELETE("/models/:id", h.DeleteModel)

	authGroup.POST("/chats", h.CreateChat)
	authGroup.POST("/chats/direct", h.CreateDirectChat)
	authGroup.GET("/chats", h.ListChats)
	authGroup.GET("/chats/paginated", h.ListChatsPaginated)
	authGroup.GET("/chats/:id", h.GetChat)
	authGroup.PUT("/chats/:id", h.UpdateChat)
	authGroup.DELETE("/chats/:id", h.DeleteChat)
	authGroup.POST("/chats/:id/messages", h.SendMessage)

	return r
}
