package botfleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dropbot/backend/pkg/config"
	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/logger"
)

const (
	healthCheckInterval = 60 * time.Second
	stopTimeout         = 5 * time.Second
)

// botSlot is one primary identity's failover bookkeeping: which backup
// token index it's currently on, and whether it has exhausted its list.
type botSlot struct {
	primaryIndex int
	token        string // currently active token (primary or promoted backup)
	usedBackups  int    // how many backups from the ordered list have been tried
}

// Fleet is BotFleet. It owns one Transport per live bot_id plus the
// failover bookkeeping described below.
type Fleet struct {
	registry *registry
	logger   *logger.Logger

	webhookURL   string
	backupTokens map[int][]string // primary index -> ordered backup list
	adminIDs     []int64

	mu         sync.Mutex            // global failover mutex
	slots      map[string]*botSlot   // bot_id -> failover state
	failed     map[string]bool       // bot_id -> skipped by the health loop (set when failover starts, cleared when it succeeds)
	inProgress map[string]bool       // bot_id -> failover currently running (re-entry guard)
}

// New constructs a Fleet from cfg.Bots, one bot_id per configured primary
// token named "bot-0", "bot-1", ... in config order.
func New(cfg *config.Config, log *logger.Logger) *Fleet {
	f := &Fleet{
		registry:     newRegistry(),
		logger:       log,
		webhookURL:   cfg.Bots.WebhookURL,
		backupTokens: cfg.Bots.BackupTokens,
		adminIDs:     cfg.Admin.PrimaryIDs,
		slots:        make(map[string]*botSlot),
		failed:       make(map[string]bool),
		inProgress:   make(map[string]bool),
	}
	for i, token := range cfg.Bots.PrimaryTokens {
		botID := fmt.Sprintf("bot-%d", i)
		f.slots[botID] = &botSlot{primaryIndex: i, token: token}
		f.registry.set(botID, newTransport(token, log))
		log.Info("registered bot identity", "bot_id", botID, "token", maskToken(token))
	}
	return f
}

// Start installs webhooks for every configured bot and begins the 60s
// health loop. Returns immediately; the health loop runs until ctx is
// cancelled.
func (f *Fleet) Start(ctx context.Context) {
	for botID, t := range f.registry.all() {
		if err := t.SetWebhook(ctx, f.webhookURL); err != nil {
			f.logger.Error("failed to install webhook at startup", "bot_id", botID, "error", err)
		}
	}
	go f.healthLoop(ctx)
}

func (f *Fleet) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	f.runHealthCheck(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.runHealthCheck(ctx)
		}
	}
}

func (f *Fleet) runHealthCheck(ctx context.Context) {
	for botID, t := range f.registry.all() {
		f.mu.Lock()
		alreadyFailed := f.failed[botID]
		f.mu.Unlock()
		if alreadyFailed {
			continue
		}

		err := t.GetMe(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, errors.ErrBotTokenRevoked):
			f.logger.Warn("bot identity invalid, triggering failover", "bot_id", botID)
			f.failover(ctx, botID)
		default:
			// network-transient: ignore, next tick retries.
			f.logger.Warn("bot health probe transient failure", "bot_id", botID, "error", err)
		}
	}
}

// failover implements the 6-step failover procedure under the global mutex
// plus a per-bot in-progress guard, so a health check that fires mid-failover
// can't start a second, overlapping failover for the same bot.
func (f *Fleet) failover(ctx context.Context, botID string) {
	f.mu.Lock()
	if f.inProgress[botID] {
		f.mu.Unlock()
		return
	}
	f.inProgress[botID] = true
	slot, ok := f.slots[botID]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.inProgress, botID)
		f.mu.Unlock()
	}()

	if !ok {
		return
	}

	// Step 1: pull the next unused backup token.
	backups := f.backupTokens[slot.primaryIndex]
	if slot.usedBackups >= len(backups) {
		f.mu.Lock()
		f.failed[botID] = true
		f.mu.Unlock()
		f.notifyAdminsInternal(ctx, fmt.Sprintf("bot %s exhausted all backup tokens — no replacement available", botID))
		return
	}
	newToken := backups[slot.usedBackups]
	slot.usedBackups++

	// Step 2: mark the old bot_id failed so the health loop skips it.
	f.mu.Lock()
	f.failed[botID] = true
	f.mu.Unlock()

	// Step 3: stop the old transport with a bounded timeout. Telegram's
	// HTTP-polling transports have no persistent connection to tear down,
	// so this is a best-effort in-flight-request grace period rather than
	// a socket close.
	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	<-stopCtx.Done()

	// Step 4: construct the new transport and install the webhook.
	newTransport := newTransport(newToken, f.logger)
	if err := newTransport.SetWebhook(ctx, f.webhookURL); err != nil {
		f.logger.Error("failover: failed to install webhook on replacement", "bot_id", botID, "error", err)
		f.notifyAdminsInternal(ctx, fmt.Sprintf("bot %s failover failed: could not install webhook on replacement", botID))
		return
	}

	// Step 5: verify by identity probe.
	if err := newTransport.GetMe(ctx); err != nil {
		f.logger.Error("failover: replacement identity probe failed", "bot_id", botID, "error", err)
		f.notifyAdminsInternal(ctx, fmt.Sprintf("bot %s failover failed: replacement identity probe failed", botID))
		return
	}

	// Register under a fresh bot_id and alias the old one to it, so both
	// resolve to the live transport (routing contract).
	newBotID := fmt.Sprintf("%s-r%d", botID, slot.usedBackups)
	slot.token = newToken
	f.registry.set(newBotID, newTransport)
	f.registry.alias(botID, newBotID)

	f.mu.Lock()
	delete(f.failed, botID) // the identity is live again, just under an alias
	f.slots[newBotID] = slot
	f.mu.Unlock()

	// Step 6: no admin notification on success.
	f.logger.Info("bot failover succeeded", "old_bot_id", botID, "new_bot_id", newBotID)
}

// notifyAdminsInternal is failover's own admin alert path — it deliberately
// avoids calling the exported NotifyAdmins so a failover triggered before
// any delivery dispatch wiring exists still has somewhere to report to.
func (f *Fleet) notifyAdminsInternal(ctx context.Context, text string) {
	for _, t := range f.registry.all() {
		sent := false
		for _, adminID := range f.adminIDs {
			if err := t.SendText(ctx, adminID, text); err == nil {
				sent = true
			}
		}
		if sent {
			return
		}
	}
	f.logger.Error("no surviving transport could deliver admin alert", "text", text)
}

// resolve returns the live transport currently responsible for botID,
// following the alias chain the registry maintains across failovers.
func (f *Fleet) resolve(botID string) (*Transport, bool) {
	return f.registry.get(botID)
}

// ResolveToken maps the literal token segment of an inbound
// `POST /telegram/<token>` request to the bot_id currently responsible for
// it, so the HTTP layer can hand the update envelope to the matching
// transport without knowing about failover bookkeeping itself.
func (f *Fleet) ResolveToken(token string) (botID string, ok bool) {
	return f.registry.botIDForToken(token)
}
