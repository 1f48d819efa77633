package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/stratochat/stratochat/internal/config"
	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/models"
)

var testDBSeq atomic.Int64

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *kv.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:apitest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	kvs := kv.New(db, models.Tables()...)
	if err := kvs.AutoMigrate(); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	cfg := config.Config{JWTSecret: "test-secret", ChatListLimit: 50}
	return NewRouter(kvs, cfg, nil, nil), kvs
}

func do(t *testing.T, r *gin.Engine, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: bad envelope %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func registerAndActivate(t *testing.T, r *gin.Engine, kvs *kv.Store, email, name string) string {
	t.Helper()
	status, env := do(t, r, http.MethodPost, "/auth/register", "", gin.H{
		"email": email, "name": name, "password": "pw12345",
	})
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("register: status %d, code %d (%s)", status, env.Code, env.Message)
	}
	var u struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatalf("decode register data: %v", err)
	}
	if err := kvs.Update(context.Background(), models.TableUsers, u.ID,
		map[string]any{"status": models.StatusActive}, nil); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return u.ID
}

func login(t *testing.T, r *gin.Engine, email string) string {
	t.Helper()
	status, env := do(t, r, http.MethodPost, "/auth/login", "", gin.H{
		"email": email, "password": "pw12345",
	})
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("login: status %d, code %d (%s)", status, env.Code, env.Message)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode login data: %v", err)
	}
	if out.Token == "" {
		t.Fatalf("login returned no token")
	}
	return out.Token
}

func TestRegisterEmailValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, bad := range []string{"not-an-email", "a@b", "has space@example.com", "@example.com", "alice@"} {
		status, _ := do(t, r, http.MethodPost, "/auth/register", "", gin.H{
			"email": bad, "name": "Alice", "password": "pw12345",
		})
		if status != http.StatusBadRequest {
			t.Fatalf("email %q: status %d, want 400", bad, status)
		}
	}

	status, env := do(t, r, http.MethodPost, "/auth/register", "", gin.H{
		"email": "alice@example.com", "name": "Alice", "password": "pw12345",
	})
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("valid email rejected: status %d, code %d (%s)", status, env.Code, env.Message)
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	r, kvs := newTestRouter(t)

	status, env := do(t, r, http.MethodPost, "/auth/register", "", gin.H{
		"email": "alice@example.com", "name": "Alice", "password": "pw12345",
	})
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("register: status %d, code %d", status, env.Code)
	}
	if bytes.Contains(env.Data, []byte("hashed_password")) {
		t.Fatalf("register response leaked the password hash: %s", env.Data)
	}

	// pending accounts cannot log in
	status, env = do(t, r, http.MethodPost, "/auth/login", "", gin.H{
		"email": "alice@example.com", "password": "pw12345",
	})
	if status != http.StatusForbidden || env.Code != 40302 {
		t.Fatalf("pending login: status %d, code %d", status, env.Code)
	}

	// duplicate email rejected
	status, env = do(t, r, http.MethodPost, "/auth/register", "", gin.H{
		"email": "alice@example.com", "name": "Alice Again", "password": "pw12345",
	})
	if status != http.StatusConflict {
		t.Fatalf("duplicate register: status %d, code %d", status, env.Code)
	}

	var u struct {
		ID string `json:"id"`
	}
	page, err := kvs.QueryByIndex(context.Background(), models.TableUsers, models.IndexUserEmail, "alice@example.com", kv.Query{Limit: 1})
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("lookup: %v (%d items)", err, len(page.Items))
	}
	if err := json.Unmarshal(page.Items[0], &u); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := kvs.Update(context.Background(), models.TableUsers, u.ID,
		map[string]any{"status": models.StatusActive}, nil); err != nil {
		t.Fatalf("activate: %v", err)
	}

	token := login(t, r, "alice@example.com")

	status, env = do(t, r, http.MethodGet, "/me", token, nil)
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("me: status %d, code %d", status, env.Code)
	}

	// wrong password after activation
	status, _ = do(t, r, http.MethodPost, "/auth/login", "", gin.H{
		"email": "alice@example.com", "password": "nope",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("wrong password: status %d", status)
	}
}

func TestAuthRequired(t *testing.T) {
	r, _ := newTestRouter(t)

	status, _ := do(t, r, http.MethodGet, "/me", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d", status)
	}
	status, _ = do(t, r, http.MethodGet, "/me", "garbage-token", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d", status)
	}
}

func TestChatEndpoints(t *testing.T) {
	r, kvs := newTestRouter(t)
	registerAndActivate(t, r, kvs, "alice@example.com", "Alice")
	bobID := registerAndActivate(t, r, kvs, "bob@example.com", "Bob")
	token := login(t, r, "alice@example.com")

	status, env := do(t, r, http.MethodPost, "/chats", token, gin.H{})
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("create chat: status %d, code %d (%s)", status, env.Code, env.Message)
	}
	var created struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if created.Title != "New Chat" {
		t.Fatalf("expected default title, got %q", created.Title)
	}

	status, env = do(t, r, http.MethodPost, "/chats/"+created.ID+"/messages", token, gin.H{"content": "hello"})
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("send message: status %d, code %d (%s)", status, env.Code, env.Message)
	}
	var withMsg struct {
		Messages []struct {
			Content string `json:"content"`
			Role    string `json:"role"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(env.Data, &withMsg); err != nil {
		t.Fatalf("decode message response: %v", err)
	}
	if len(withMsg.Messages) != 1 || withMsg.Messages[0].Content != "hello" || withMsg.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages: %+v", withMsg.Messages)
	}

	status, env = do(t, r, http.MethodPost, "/chats/"+created.ID+"/messages", token, gin.H{"content": ""})
	if status != http.StatusBadRequest {
		t.Fatalf("empty message: status %d", status)
	}

	status, env = do(t, r, http.MethodPost, "/chats/direct", token, gin.H{"participant_id": bobID})
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("create direct: status %d, code %d (%s)", status, env.Code, env.Message)
	}

	status, env = do(t, r, http.MethodGet, "/chats", token, nil)
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("list chats: status %d, code %d", status, env.Code)
	}
	var listed struct {
		Chats []json.RawMessage `json:"chats"`
	}
	if err := json.Unmarshal(env.Data, &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Chats) != 2 {
		t.Fatalf("expected the ai chat and the direct chat, got %d", len(listed.Chats))
	}

	status, _ = do(t, r, http.MethodGet, "/chats/missing-id", token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("missing chat: status %d", status)
	}

	status, _ = do(t, r, http.MethodDelete, "/chats/"+created.ID, token, nil)
	if status != http.StatusOK {
		t.Fatalf("delete chat: status %d", status)
	}
}

func TestAdminGate(t *testing.T) {
	r, kvs := newTestRouter(t)
	userID := registerAndActivate(t, r, kvs, "alice@example.com", "Alice")
	token := login(t, r, "alice@example.com")

	status, _ := do(t, r, http.MethodGet, "/users", token, nil)
	if status != http.StatusForbidden {
		t.Fatalf("non-admin user list: status %d", status)
	}
	status, _ = do(t, r, http.MethodPost, "/roles", token, gin.H{"name": "trial"})
	if status != http.StatusForbidden {
		t.Fatalf("non-admin role create: status %d", status)
	}

	// promote and retry
	if err := kvs.Update(context.Background(), models.TableUsers, userID,
		map[string]any{"role": models.RoleTagAdmin}, nil); err != nil {
		t.Fatalf("promote: %v", err)
	}
	status, env := do(t, r, http.MethodGet, "/users", token, nil)
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("admin user list: status %d, code %d (%s)", status, env.Code, env.Message)
	}
	status, env = do(t, r, http.MethodPost, "/roles", token, gin.H{
		"name": "trial", "max_chats": 3, "context_length": 100,
	})
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("admin role create: status %d, code %d (%s)", status, env.Code, env.Message)
	}

	status, _ = do(t, r, http.MethodPost, "/roles", token, gin.H{"name": "trial"})
	if status != http.StatusConflict {
		t.Fatalf("duplicate role name: status %d", status)
	}
}
