// Package dispatch parses slash-commands and routes them to handlers
// that enqueue replies. The command set is closed and resolved by binary
// search over a statically sorted table.
package dispatch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"chatrelay/internal/access"
	"chatrelay/internal/queue"
)

// Config is the slice of the configuration snapshot the dispatcher
// needs: the admin identifier (0 disables admin commands) and the bot's
// own username, used to validate @botname suffixes.
type Config struct {
	AdminID     int64
	BotUsername string
}

// AuditRecorder receives a best-effort record of an administrative
// action. A nil AuditRecorder in Context is valid and simply records
// nothing -- the audit trail is an optional facility.
type AuditRecorder interface {
	Record(sender, chat int64, action, detail string)
}

// Context is the read-only bundle passed to every command handler.
type Context struct {
	Config      *Config
	Access      *access.List
	Queue       *queue.Queue
	Sender      queue.SenderID
	Chat        queue.ChatID
	BootTime    time.Time
	WorkerCount int
	Audit       AuditRecorder
}

func (c *Context) audit(action, detail string) {
	if c.Audit == nil {
		return
	}
	c.Audit.Record(int64(c.Sender), int64(c.Chat), action, detail)
}

func (c *Context) reply(text string) {
	_ = c.Queue.Push(c.Sender, c.Chat, text)
}

func (c *Context) isAdmin() bool {
	return c.Config.AdminID != 0 && int64(c.Sender) == c.Config.AdminID
}

type argKind int

const (
	noArg argKind = iota
	hasArg
)

type entry struct {
	name   string
	kind   argKind
	noFn   func(*Context)
	argFn  func(*Context, string)
}

// cmdTable is sorted alphabetically by name; Dispatch relies on that
// order for binary search.
var cmdTable = []entry{
	{name: "allow", kind: hasArg, argFn: cmdAllow},
	{name: "help", kind: noArg, noFn: cmdHelp},
	{name: "revoke", kind: hasArg, argFn: cmdRevoke},
	{name: "start", kind: noArg, noFn: cmdStart},
	{name: "status", kind: noArg, noFn: cmdStatus},
}

func lookup(name string) *entry {
	i := sort.Search(len(cmdTable), func(i int) bool { return cmdTable[i].name >= name })
	if i < len(cmdTable) && cmdTable[i].name == name {
		return &cmdTable[i]
	}
	return nil
}

// Dispatch parses text as a slash-command and routes it. It returns true
// ("handled") if text consumed a recognized command slot -- including
// when authorization failed, since the slash was still consumed. It
// returns false for non-command text, unknown commands, or a command
// addressed to a different bot via @suffix.
func Dispatch(ctx *Context, text string) bool {
	if !strings.HasPrefix(text, "/") {
		return false
	}

	name, args, ok := parseCommand(text, ctx.Config.BotUsername)
	if !ok {
		return false
	}

	e := lookup(name)
	if e == nil {
		return false
	}

	if e.kind == hasArg {
		e.argFn(ctx, args)
	} else {
		e.noFn(ctx)
	}
	return true
}

// parseCommand strips the leading '/', an optional "@botname" suffix,
// and returns the bare command name plus the trimmed argument string.
// A suffix addressed to a different bot makes the whole command
// unrecognized (ok=false). An unknown username (empty botUsername)
// accepts any suffix.
func parseCommand(text, botUsername string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	rest := text[1:]

	end := 0
	for end < len(rest) && rest[end] != ' ' && rest[end] != '@' {
		end++
	}
	if end == 0 {
		return "", "", false
	}
	name = rest[:end]
	rest = rest[end:]

	if strings.HasPrefix(rest, "@") {
		rest = rest[1:]
		atEnd := 0
		for atEnd < len(rest) && rest[atEnd] != ' ' {
			atEnd++
		}
		suffix := rest[:atEnd]
		rest = rest[atEnd:]
		if botUsername != "" && !strings.EqualFold(suffix, botUsername) {
			return "", "", false
		}
	}

	args = strings.TrimLeft(rest, " ")
	return name, args, true
}

// parseSenderArg parses a decimal 64-bit identifier, rejecting trailing
// garbage, out-of-range values, and the reserved zero identifier.
func parseSenderArg(args string) (int64, bool) {
	if args == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(args, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

func cmdStart(ctx *Context) {
	ctx.reply("Hello! Use /help to see available commands.")
}

func cmdHelp(ctx *Context) {
	ctx.reply("/start  - show greeting\n" +
		"/help   - this message\n" +
		"/status - (admin) operational status\n" +
		"/allow <user_id>  - (admin) add user to the access list\n" +
		"/revoke <user_id> - (admin) remove user from the access list")
}

func cmdAllow(ctx *Context, args string) {
	if !ctx.isAdmin() {
		ctx.reply("permission denied: admin only.")
		return
	}
	if args == "" {
		ctx.reply("Usage: /allow <user_id>")
		return
	}
	target, ok := parseSenderArg(args)
	if !ok {
		ctx.reply("Invalid user ID.")
		return
	}

	rc, err := ctx.Access.Add(target)
	switch {
	case err != nil:
		ctx.reply("Failed to add user (whitelist full?).")
	case rc == 1:
		ctx.reply("User already whitelisted.")
	case rc == 0:
		ctx.reply(fmt.Sprintf("User %d added to whitelist.", target))
		ctx.audit("allow", fmt.Sprintf("target=%d", target))
		_ = ctx.Queue.Push(queue.SenderID(target), queue.ChatID(target), "You have been granted access to this bot.")
	default:
		ctx.reply("Failed to add user (whitelist full?).")
	}
}

func cmdRevoke(ctx *Context, args string) {
	if !ctx.isAdmin() {
		ctx.reply("permission denied: admin only.")
		return
	}
	if args == "" {
		ctx.reply("Usage: /revoke <user_id>")
		return
	}
	target, ok := parseSenderArg(args)
	if !ok {
		ctx.reply("Invalid user ID.")
		return
	}

	rc, err := ctx.Access.Remove(target)
	switch {
	case err != nil:
		ctx.reply("Failed to remove user.")
	case rc == 1:
		ctx.reply("User was not whitelisted.")
	case rc == 0:
		ctx.reply(fmt.Sprintf("User %d removed from whitelist.", target))
		ctx.audit("revoke", fmt.Sprintf("target=%d", target))
	default:
		ctx.reply("Failed to remove user.")
	}
}

func cmdStatus(ctx *Context) {
	if !ctx.isAdmin() {
		ctx.reply("permission denied: admin only.")
		return
	}

	uptime := time.Since(ctx.BootTime)
	secs := int64(uptime.Seconds())
	hours, mins, secs := secs/3600, (secs%3600)/60, secs%60

	depth := ctx.Queue.Depth()
	count := ctx.Access.Count()

	ctx.reply(fmt.Sprintf(
		"uptime: %dh %dm %ds\nqueue: %s pending\nwhitelist: %s user(s)\nworkers: %d",
		hours, mins, secs,
		humanize.Comma(int64(depth)),
		humanize.Comma(int64(count)),
		ctx.WorkerCount,
	))
}
