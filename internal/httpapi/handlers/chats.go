package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/stratochat/stratochat/internal/chat"
	"github.com/stratochat/stratochat/internal/common"
	"github.com/stratochat/stratochat/internal/metrics"
	"github.com/stratochat/stratochat/internal/store/rabbitmq"
)

type createChatReq struct {
	Title   string `json:"title"`
	ModelID string `json:"model_id"`
}

func (h *Handler) CreateChat(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req createChatReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	created, err := h.Chats.CreateAIChat(c.Request.Context(), user, req.Title, req.ModelID)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, created)
}

type createDirectChatReq struct {
	ParticipantID string `json:"participant_id"`
}

func (h *Handler) CreateDirectChat(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req createDirectChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.ParticipantID == "" {
		failErr(c, common.InvalidArgumentf("participant_id required"))
		return
	}

	created, err := h.Chats.CreateDirectChat(c.Request.Context(), user, req.ParticipantID)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, created)
}

func (h *Handler) ListChats(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	includeMessages := true
	if v := c.Query("include_messages"); v != "" {
		includeMessages = v != "false" && v != "0"
	}

	chats, err := h.Chats.List(c.Request.Context(), user.ID, includeMessages)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"chats": chats})
}

func (h *Handler) ListChatsPaginated(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	cursor := c.Query("cursor")

	page, err := h.Chats.ListPage(c.Request.Context(), user.ID, limit, cursor)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, page)
}

func (h *Handler) GetChat(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	got, err := h.Chats.Get(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, got)
}

func (h *Handler) UpdateChat(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req chat.Update
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	updated, err := h.Chats.UpdateChat(c.Request.Context(), user.ID, c.Param("id"), req)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, updated)
}

func (h *Handler) DeleteChat(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.Chats.Delete(c.Request.Context(), user.ID, id); err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"deleted": id})
}

func (h *Handler) SendMessage(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req chat.MessageCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Content == "" {
		failErr(c, common.InvalidArgumentf("message content required"))
		return
	}

	updated, err := h.Chats.AppendMessage(c.Request.Context(), user, c.Param("id"), req)
	if err != nil {
		failErr(c, err)
		return
	}

	// a user message in a model-backed AI chat gets an async assistant
	// reply; the append above already succeeded, so a publish failure is
	// logged rather than surfaced
	if h.Rabbit != nil && updated.ChatType == chat.TypeAI && updated.ModelID != "" &&
		(req.Role == "" || req.Role == chat.RoleUser) {
		job := rabbitmq.ReplyJob{ChatID: updated.ID, UserID: user.ID}
		if err := h.Rabbit.PublishReplyJob(c.Request.Context(), job); err != nil {
			log.Error().Err(err).Str("chat_id", updated.ID).Msg("reply job publish failed")
		} else {
			metrics.Global().JobsPublished.Inc()
		}
	}

	common.OK(c, updated)
}
