package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DB_DSN", "JWT_SECRET", "HTTP_ADDR", "REDIS_ADDR", "RABBIT_URL", "RABBIT_QUEUE", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr default: %q", cfg.HTTPAddr)
	}
	if cfg.RabbitQueue != "reply_jobs" {
		t.Fatalf("rabbit queue default: %q", cfg.RabbitQueue)
	}
	if cfg.ChatListLimit != 50 {
		t.Fatalf("chat list cap: %d, want 50", cfg.ChatListLimit)
	}
}

func TestChatListCapIsFixed(t *testing.T) {
	t.Setenv("CHAT_LIST_LIMIT", "500")
	if cfg := Load(); cfg.ChatListLimit != 50 {
		t.Fatalf("chat list cap must not be tunable, got %d", cfg.ChatListLimit)
	}
}
