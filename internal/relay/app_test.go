package relay

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatrelay/internal/access"
	"chatrelay/internal/config"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/logstore"
	"chatrelay/internal/queue"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()

	acl, err := access.Load(filepath.Join(dir, "access.txt"))
	if err != nil {
		t.Fatalf("access.Load: %v", err)
	}
	if _, err := acl.Add(9000); err != nil {
		t.Fatalf("acl.Add: %v", err)
	}

	logs, err := logstore.Open(filepath.Join(dir, "relay.log"), 1<<20, zerolog.Nop())
	if err != nil {
		t.Fatalf("logstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = logs.Close() })

	cfg := &config.Config{WorkerCount: 1, AdminID: 0, BotUsername: ""}

	return &App{
		cfg:      cfg,
		log:      zerolog.Nop(),
		q:        queue.New(8),
		acl:      acl,
		logs:     logs,
		bootTime: time.Now(),
	}
}

func updateTree(senderID, chatID int64, text string) any {
	return map[string]any{
		"update_id": 1,
		"message": map[string]any{
			"from": map[string]any{"id": senderID},
			"chat": map[string]any{"id": chatID},
			"text": text,
		},
	}
}

func TestHandleUpdateUnrecognizedSlashCommandRepliesUnknown(t *testing.T) {
	a := newTestApp(t)
	dcfg := &dispatch.Config{AdminID: a.cfg.AdminID, BotUsername: a.cfg.BotUsername}
	handler := a.handleUpdate(dcfg)

	// sender is not on the access list -- if the unknown-command path
	// fell through to the whitelist gate, this would be silently
	// dropped instead of answered.
	handler(updateTree(1234, 1234, "/bogus"))

	msg, err := a.q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if msg.Text != unknownCommandReply {
		t.Fatalf("Text = %q, want %q", msg.Text, unknownCommandReply)
	}
	if msg.Sender != queue.SenderID(1234) {
		t.Fatalf("Sender = %d, want 1234", msg.Sender)
	}
}

func TestHandleUpdateMalformedSlashCommandRepliesUnknown(t *testing.T) {
	a := newTestApp(t)
	dcfg := &dispatch.Config{AdminID: a.cfg.AdminID, BotUsername: a.cfg.BotUsername}
	handler := a.handleUpdate(dcfg)

	// "/" with no command name: parseCommand returns ok=false, which
	// must reach the same unknown-command reply, not the chat path.
	handler(updateTree(1234, 1234, "/"))

	msg, err := a.q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if msg.Text != unknownCommandReply {
		t.Fatalf("Text = %q, want %q", msg.Text, unknownCommandReply)
	}
}

func TestHandleUpdateRecognizedCommandDoesNotFallThrough(t *testing.T) {
	a := newTestApp(t)
	dcfg := &dispatch.Config{AdminID: a.cfg.AdminID, BotUsername: a.cfg.BotUsername}
	handler := a.handleUpdate(dcfg)

	handler(updateTree(1234, 1234, "/start"))

	msg, err := a.q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if msg.Text == unknownCommandReply {
		t.Fatalf("a recognized command must not produce the unknown-command reply")
	}
}

func TestHandleUpdatePlainTextFromUnlistedSenderIsDropped(t *testing.T) {
	a := newTestApp(t)
	dcfg := &dispatch.Config{AdminID: a.cfg.AdminID, BotUsername: a.cfg.BotUsername}
	handler := a.handleUpdate(dcfg)

	handler(updateTree(4321, 4321, "hello there"))

	if d := a.q.Depth(); d != 0 {
		t.Fatalf("queue depth = %d, want 0 (unlisted sender's text should be dropped)", d)
	}
}

func TestHandleUpdatePlainTextFromListedSenderIsQueued(t *testing.T) {
	a := newTestApp(t)
	dcfg := &dispatch.Config{AdminID: a.cfg.AdminID, BotUsername: a.cfg.BotUsername}
	handler := a.handleUpdate(dcfg)

	handler(updateTree(9000, 9000, "hello there"))

	msg, err := a.q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if msg.Text != "hello there" {
		t.Fatalf("Text = %q, want %q", msg.Text, "hello there")
	}
}
