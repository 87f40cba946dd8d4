package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"chatrelay/internal/access"
	"chatrelay/internal/audit"
	"chatrelay/internal/completion"
	"chatrelay/internal/config"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/logstore"
	"chatrelay/internal/platform/telegram"
	"chatrelay/internal/queue"
	"chatrelay/internal/webhook"
	"chatrelay/internal/worker"
)

// unknownCommandReply matches the original bot's fixed response for any
// slash-command it cannot resolve.
const unknownCommandReply = "Unknown command. Try /help"

// App is the constructed, not-yet-running relay: every core component
// plus the ingress and worker pool that drive it, wired from a single
// immutable Config snapshot.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	q       *queue.Queue
	acl     *access.List
	logs    *logstore.Store
	webhook *webhook.Server
	pool    *worker.Pool

	audit *audit.Store
	house *housekeeper

	bootTime time.Time
	sup      *Supervisor
}

// New constructs every component from cfg. Ambient logging goes to log;
// the circular log (logs) is a separate, domain-owned facility.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	acl, err := access.Load(cfg.AccessPath)
	if err != nil {
		return nil, fmt.Errorf("relay: access list: %w", err)
	}

	logs, err := logstore.Open(cfg.LogPath, int64(cfg.LogMaxSizeMB)*1024*1024, log)
	if err != nil {
		return nil, fmt.Errorf("relay: circular log: %w", err)
	}

	q := queue.New(cfg.UserRingSize)

	a := &App{
		cfg:      cfg,
		log:      log,
		q:        q,
		acl:      acl,
		logs:     logs,
		bootTime: time.Now(),
	}

	if cfg.AuditPath != "" {
		store, err := audit.Open(cfg.AuditPath, 5*time.Second, log)
		if err != nil {
			return nil, fmt.Errorf("relay: audit trail: %w", err)
		}
		a.audit = store
		retain := time.Duration(cfg.AuditRetentionHours) * time.Hour
		a.house = newHousekeeper(a.audit, a.logs, retain, log)
	}

	dispatchCfg := &dispatch.Config{AdminID: cfg.AdminID, BotUsername: cfg.BotUsername}

	if cfg.WebhookEnabled {
		a.webhook = webhook.New(webhook.Config{
			Port:     cfg.WebhookPort,
			Threads:  cfg.WebhookThreads,
			PoolSize: cfg.WebhookPoolSize,
			Secret:   cfg.WebhookSecret,
		}, a.handleUpdate(dispatchCfg), log)
	}

	completionRate := 2.0
	factory := worker.Factory{
		NewCompletion: func() worker.CompletionClient {
			return completion.New(completion.Config{
				Endpoint:     cfg.CompletionEndpoint,
				Model:        cfg.CompletionModel,
				MaxTokens:    cfg.CompletionMaxTokens,
				SystemPrompt: cfg.CompletionSystemPrompt,
			}, completionRate)
		},
		NewPlatform: func() worker.PlatformClient {
			client, err := telegram.New(cfg.BotToken)
			if err != nil {
				// per-worker client construction; a bad token fails every
				// worker identically and is surfaced on the first send.
				log.Error().Err(err).Msg("relay: telegram client construction failed")
				return nopPlatform{}
			}
			return client
		},
	}

	a.pool = worker.New(worker.Config{
		WorkerCount: cfg.WorkerCount,
		ReplyDelay:  cfg.ReplyDelay,
	}, q, factory, log)

	return a, nil
}

// handleUpdate decodes a Telegram-shaped webhook payload into a
// dispatch.Context and runs it through the command dispatcher. Text
// starting with "/" that the dispatcher cannot resolve to a known
// command never reaches the whitelist/LLM path below -- it is answered
// with a fixed "unknown command" reply and dropped there, matching the
// reference bot's command-then-whitelist ordering.
func (a *App) handleUpdate(dcfg *dispatch.Config) webhook.UpdateCallback {
	return func(tree any) {
		upd, ok := decodeUpdate(tree)
		if !ok {
			return
		}
		sender := queue.SenderID(upd.SenderID())
		chat := queue.ChatID(upd.ChatID())
		text := upd.Text()
		if sender == 0 || text == "" {
			return
		}

		dctx := &dispatch.Context{
			Config:      dcfg,
			Access:      a.acl,
			Queue:       a.q,
			Sender:      sender,
			Chat:        chat,
			BootTime:    a.bootTime,
			WorkerCount: a.cfg.WorkerCount,
			Audit:       a.audit,
		}
		if strings.HasPrefix(text, "/") {
			if dispatch.Dispatch(dctx, text) {
				_ = a.logs.Info(fmt.Sprintf("command from %d: %s", sender, text))
				return
			}
			if a.audit != nil {
				a.audit.Record(int64(sender), int64(chat), "unknown_command", text)
			}
			if err := a.q.Push(sender, chat, unknownCommandReply); err != nil {
				a.log.Warn().Err(err).Int64("sender", int64(sender)).Msg("relay: queue full, dropping unknown-command reply")
			}
			return
		}

		if !a.acl.Contains(int64(sender)) {
			_ = a.logs.Warn(fmt.Sprintf("message from unauthorized sender %d dropped", sender))
			return
		}
		if err := a.q.Push(sender, chat, text); err != nil {
			_ = a.logs.Warn(fmt.Sprintf("sender %d: %v", sender, err))
			a.log.Warn().Err(err).Int64("sender", int64(sender)).Msg("relay: queue full, dropping message")
		}
	}
}

// Run starts every component under a supervisor and blocks until ctx is
// cancelled, then shuts everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, a.log)

	if a.webhook != nil {
		if err := a.webhook.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("relay: webhook start: %w", err)
		}
	}

	a.sup.Go0("worker-pool", a.pool.Run)

	if a.house != nil {
		a.house.Start()
	}

	_ = a.logs.Info(fmt.Sprintf("relay started: %d workers", a.cfg.WorkerCount))
	notifyReady(a.log)

	<-a.sup.Context().Done()
	return a.shutdown()
}

func (a *App) shutdown() error {
	_ = a.logs.Info("relay shutting down")
	notifyStopping(a.log)

	a.pool.Stop()
	a.q.Shutdown()

	if a.house != nil {
		a.house.Stop()
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}

	if a.webhook != nil {
		_ = a.webhook.Stop(context.Background())
	}
	_ = a.logs.Close()

	return a.sup.Wait()
}

func notifyReady(log zerolog.Logger) {
	ok, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn().Err(err).Msg("relay: systemd notify failed")
		return
	}
	if ok {
		log.Info().Msg("relay: reported ready to systemd")
	}
}

func notifyStopping(log zerolog.Logger) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Warn().Err(err).Msg("relay: systemd stopping-notify failed")
	}
}

// nopPlatform is the degraded PlatformClient used when a worker's own
// client construction fails; it reports every send as an error so the
// worker loop logs rather than panics.
type nopPlatform struct{}

func (nopPlatform) SendText(ctx context.Context, chat queue.ChatID, text string) error {
	return fmt.Errorf("relay: platform client unavailable")
}
