package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stratochat/stratochat/internal/common"
	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/limits"
	"github.com/stratochat/stratochat/internal/metrics"
	"github.com/stratochat/stratochat/internal/models"
)

const defaultTitle = "New Chat"

// Store owns the chat lifecycle: creation, retrieval, update, deletion,
// message append and the direct-chat dual-write protocol.
type Store struct {
	kv        *kv.Store
	limits    *limits.Resolver
	listLimit int
	now       func() time.Time
}

func NewStore(kvs *kv.Store, resolver *limits.Resolver, listLimit int) *Store {
	if listLimit <= 0 {
		listLimit = 50
	}
	return &Store{kv: kvs, limits: resolver, listLimit: listLimit, now: time.Now}
}

// CreateAIChat inserts a fresh AI chat after enforcing the owner's
// chat-count ceiling. The count is an unindexed scan over the whole
// chats table.
func (s *Store) CreateAIChat(ctx context.Context, owner *models.User, title, modelID string) (*Chat, error) {
	l, err := s.limits.Resolve(ctx, owner)
	if err != nil {
		return nil, err
	}
	if l.MaxChats != nil {
		count, err := s.countOwnedChats(ctx, owner.ID)
		if err != nil {
			return nil, err
		}
		if count >= *l.MaxChats {
			metrics.Global().QuotaRejections.Inc()
			return nil, common.QuotaExceededf("chat limit reached: %d of %d chats", count, *l.MaxChats)
		}
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	c := &Chat{
		ID:         id,
		UserID:     owner.ID,
		Title:      title,
		ChatType:   TypeAI,
		ModelID:    modelID,
		SharedWith: []string{},
		Messages:   []Message{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if c.Title == "" {
		c.Title = defaultTitle
	}
	if err := s.kv.Put(ctx, models.TableChats, c.ID, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) countOwnedChats(ctx context.Context, ownerID string) (int, error) {
	type ownerOnly struct {
		UserID string `json:"user_id"`
	}
	docs, err := s.kv.Scan(ctx, models.TableChats, func(raw json.RawMessage) bool {
		var o ownerOnly
		if err := json.Unmarshal(raw, &o); err != nil {
			return false
		}
		return o.UserID == ownerID
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// CreateDirectChat establishes (or returns) the two-sided conversation
// between owner and participant. Repeating the call for the same pair
// returns the owner's existing record; it never creates a duplicate.
func (s *Store) CreateDirectChat(ctx context.Context, owner *models.User, participantID string) (*Chat, error) {
	if participantID == owner.ID {
		return nil, common.InvalidArgumentf("cannot start a direct chat with yourself")
	}

	var participant models.User
	if err := s.kv.Get(ctx, models.TableUsers, participantID, &participant); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, common.NotFoundf("user %s not found", participantID)
		}
		return nil, err
	}

	existing, err := s.findDirectChat(ctx, owner.ID, participantID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	conversationID, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	ownerChatID, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	participantChatID, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ownerChat := &Chat{
		ID:             ownerChatID,
		UserID:         owner.ID,
		Title:          participant.Name,
		ChatType:       TypeDirect,
		SharedWith:     []string{},
		Messages:       []Message{},
		ParticipantID:  participantID,
		ConversationID: conversationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	participantChat := &Chat{
		ID:             participantChatID,
		UserID:         participantID,
		Title:          owner.Name,
		ChatType:       TypeDirect,
		SharedWith:     []string{},
		Messages:       []Message{},
		ParticipantID:  owner.ID,
		ConversationID: conversationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// two independent writes; a failure between them leaves a one-sided
	// conversation that is never compensated
	if err := s.kv.Put(ctx, models.TableChats, ownerChat.ID, ownerChat); err != nil {
		return nil, err
	}
	if err := s.kv.Put(ctx, models.TableChats, participantChat.ID, participantChat); err != nil {
		return nil, err
	}
	return ownerChat, nil
}

func (s *Store) findDirectChat(ctx context.Context, ownerID, participantID string) (*Chat, error) {
	page, err := s.kv.QueryByIndex(ctx, models.TableChats, models.IndexChatUser, ownerID, kv.Query{Descending: true})
	if err != nil {
		return nil, err
	}
	for _, raw := range page.Items {
		var c Chat
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		if c.ChatType == TypeDirect && c.ParticipantID == participantID {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) Get(ctx context.Context, requesterID, chatID string) (*Chat, error) {
	var c Chat
	if err := s.kv.Get(ctx, models.TableChats, chatID, &c); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, common.NotFoundf("chat %s not found", chatID)
		}
		return nil, err
	}
	if c.UserID != requesterID {
		return nil, common.Forbiddenf("chat %s belongs to another user", chatID)
	}
	return &c, nil
}

// strippedAttrs is the chat document minus its message sequence, for
// transfer-size reduction on listings.
var strippedAttrs = []string{
	"id", "user_id", "title", "chat_type", "model_id",
	"pinned", "shared", "shared_with",
	"participant_id", "conversation_id",
	"created_at", "updated_at",
}

// List returns the owner's most recent chats, pinned ones first, then
// most-recently-updated within each partition. The unpaginated path is
// capped; use ListPage past the cap.
func (s *Store) List(ctx context.Context, ownerID string, includeMessages bool) ([]Chat, error) {
	q := kv.Query{Descending: true, Limit: s.listLimit}
	if !includeMessages {
		q.Projection = strippedAttrs
	}
	page, err := s.kv.QueryByIndex(ctx, models.TableChats, models.IndexChatUser, ownerID, q)
	if err != nil {
		return nil, err
	}
	chats, err := decodeChats(page.Items)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].Pinned != chats[j].Pinned {
			return chats[i].Pinned
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

// ListPage resumes the owner-indexed query from an opaque cursor.
func (s *Store) ListPage(ctx context.Context, ownerID string, limit int, cursor string) (*Page, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page, err := s.kv.QueryByIndex(ctx, models.TableChats, models.IndexChatUser, ownerID, kv.Query{
		Descending: true,
		Limit:      limit,
		Cursor:     cursor,
	})
	if err != nil {
		if errors.Is(err, kv.ErrBadCursor) {
			return nil, common.InvalidArgumentf("malformed cursor")
		}
		return nil, err
	}
	chats, err := decodeChats(page.Items)
	if err != nil {
		return nil, err
	}
	return &Page{
		Chats:   chats,
		HasMore: page.Cursor != "",
		Cursor:  page.Cursor,
	}, nil
}

func decodeChats(items []json.RawMessage) ([]Chat, error) {
	chats := make([]Chat, 0, len(items))
	for _, raw := range items {
		var c Chat
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		if c.Messages == nil {
			c.Messages = []Message{}
		}
		if c.SharedWith == nil {
			c.SharedWith = []string{}
		}
		chats = append(chats, c)
	}
	return chats, nil
}

func (s *Store) UpdateChat(ctx context.Context, requesterID, chatID string, upd Update) (*Chat, error) {
	if upd.Title == nil && upd.Pinned == nil {
		return nil, common.InvalidArgumentf("empty update payload")
	}
	if _, err := s.Get(ctx, requesterID, chatID); err != nil {
		return nil, err
	}

	changes := map[string]any{"updated_at": s.now().UTC()}
	if upd.Title != nil {
		changes["title"] = *upd.Title
	}
	if upd.Pinned != nil {
		changes["pinned"] = *upd.Pinned
	}

	var c Chat
	if err := s.kv.Update(ctx, models.TableChats, chatID, changes, &c); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, common.NotFoundf("chat %s not found", chatID)
		}
		return nil, err
	}
	return &c, nil
}

// Delete removes the requester's own record only. For direct chats the
// counterpart record survives; both sides own their copy independently.
func (s *Store) Delete(ctx context.Context, requesterID, chatID string) error {
	if _, err := s.Get(ctx, requesterID, chatID); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, models.TableChats, chatID); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return common.NotFoundf("chat %s not found", chatID)
		}
		return err
	}
	return nil
}

// AppendMessage stamps and appends a message to the requester's chat
// and, for direct chats, propagates the identical message to the
// counterpart record. The returned chat is the writer's own copy.
func (s *Store) AppendMessage(ctx context.Context, requester *models.User, chatID string, in MessageCreate) (*Chat, error) {
	c, err := s.Get(ctx, requester.ID, chatID)
	if err != nil {
		return nil, err
	}

	l, err := s.limits.Resolve(ctx, requester)
	if err != nil {
		return nil, err
	}
	if l.ContextLength != nil {
		total := limits.EstimateTokens(in.Content)
		for _, m := range c.Messages {
			total += limits.EstimateTokens(m.Content)
		}
		if total > *l.ContextLength {
			metrics.Global().QuotaRejections.Inc()
			return nil, common.QuotaExceededf(
				"context window exhausted: %d of %d estimated tokens, start a new chat", total, *l.ContextLength)
		}
	}

	role := in.Role
	if role == "" {
		role = RoleUser
	}
	now := s.now().UTC()
	msg := Message{
		Role:      role,
		Content:   in.Content,
		Timestamp: now,
		SenderID:  requester.ID,
	}

	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = now
	if err := s.kv.Put(ctx, models.TableChats, c.ID, c); err != nil {
		return nil, err
	}
	metrics.Global().MessagesAppended.Inc()

	if c.ChatType == TypeDirect && c.ConversationID != "" {
		if err := s.syncCounterpart(ctx, c, msg, now); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// syncCounterpart appends msg to the other side of the conversation. A
// missing counterpart (the participant deleted their side) is skipped
// without surfacing an error; any other failure propagates, leaving the
// two sides asymmetric until the next successful append.
func (s *Store) syncCounterpart(ctx context.Context, c *Chat, msg Message, now time.Time) error {
	page, err := s.kv.QueryByIndex(ctx, models.TableChats, models.IndexChatUser, c.ParticipantID, kv.Query{Descending: true})
	if err != nil {
		return err
	}
	for _, raw := range page.Items {
		var other Chat
		if err := json.Unmarshal(raw, &other); err != nil {
			return err
		}
		if other.ConversationID != c.ConversationID {
			continue
		}
		other.Messages = append(other.Messages, msg)
		other.UpdatedAt = now
		return s.kv.Put(ctx, models.TableChats, other.ID, &other)
	}

	metrics.Global().SyncSkipped.Inc()
	log.Warn().
		Str("chat_id", c.ID).
		Str("conversation_id", c.ConversationID).
		Str("participant_id", c.ParticipantID).
		Msg("direct chat counterpart missing, sync skipped")
	return nil
}
