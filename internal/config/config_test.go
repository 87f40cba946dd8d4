package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
bot_token: "abc123"
admin_id: 1
worker_count: 4
user_ring_size: 32
log_path: /tmp/relay.log
log_max_size_mb: 4
access_path: /tmp/access.txt
webhook_enabled: true
webhook_port: 8443
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.WorkerCount != 4 {
		t.Fatalf("worker_count = %d, want 4", c.WorkerCount)
	}
	if c.PollTimeout != 30 {
		t.Fatalf("poll_timeout default = %d, want 30", c.PollTimeout)
	}
}

func TestLoadRejectsOutOfRangeWorkerCount(t *testing.T) {
	path := writeConfig(t, `
bot_token: "abc123"
worker_count: 99
log_path: /tmp/relay.log
log_max_size_mb: 4
access_path: /tmp/access.txt
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for worker_count out of range")
	}
}

func TestLoadRejectsMissingBotToken(t *testing.T) {
	path := writeConfig(t, `
log_path: /tmp/relay.log
log_max_size_mb: 4
access_path: /tmp/access.txt
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing bot_token")
	}
}

func TestLoadParsesReplyDelayDuration(t *testing.T) {
	path := writeConfig(t, `
bot_token: "abc123"
reply_delay: "5s"
log_path: /tmp/relay.log
log_max_size_mb: 4
access_path: /tmp/access.txt
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ReplyDelay != 5*time.Second {
		t.Fatalf("ReplyDelay = %v, want 5s", c.ReplyDelay)
	}
}

func TestLoadRejectsMalformedReplyDelay(t *testing.T) {
	path := writeConfig(t, `
bot_token: "abc123"
reply_delay: "not-a-duration"
log_path: /tmp/relay.log
log_max_size_mb: 4
access_path: /tmp/access.txt
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed reply_delay")
	}
}

func TestLoadRejectsUserRingSizeOutOfRange(t *testing.T) {
	path := writeConfig(t, `
bot_token: "abc123"
log_path: /tmp/relay.log
log_max_size_mb: 4
access_path: /tmp/access.txt
user_ring_size: 1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for user_ring_size below minimum")
	}
}
