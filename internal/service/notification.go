package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"blockyard/internal/config"
	"blockyard/internal/domain"
	"blockyard/internal/util"
)

const (
	colorGreen  = 0x00FF00
	colorRed    = 0xFF0000
	colorOrange = 0xFFA500

	discordDescriptionLimit = 2000
	crashTailLines          = 15
)

// Notification dispatches alerts to Discord and restart warnings to players.
type Notification struct {
	cfg    *config.Config
	logger *zap.Logger
	client *util.HTTPClient
	after  func(time.Duration) <-chan time.Time
	tail   func(n int) []domain.LogLine
}

var _ Notifier = (*Notification)(nil)

// NewNotification initializes a new notification service. tail, when set,
// supplies recent console lines for crash reports.
func NewNotification(cfg *config.Config, tail func(n int) []domain.LogLine, logger *zap.Logger) *Notification {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notification{
		cfg:    cfg,
		logger: logger,
		client: util.NewHTTPClient(30*time.Second, util.RetryConfig{}, logger),
		after:  time.After,
		tail:   tail,
	}
}

// SendSuccess dispatches a success-level alert if enabled in config
func (n *Notification) SendSuccess(ctx context.Context, message string) error {
	if !n.cfg.Notifications.SuccessNotifications {
		return nil
	}
	return n.sendDiscord(ctx, "Success", message, colorGreen)
}

// SendError dispatches an error-level alert if enabled in config
func (n *Notification) SendError(ctx context.Context, message string) error {
	if !n.cfg.Notifications.ErrorNotifications {
		return nil
	}
	return n.sendDiscord(ctx, "Error", message, colorRed)
}

// SendCrash reports an unexpected server exit with the last console lines.
func (n *Notification) SendCrash(ctx context.Context, status domain.ServerStatus) error {
	if !n.cfg.Notifications.CrashNotifications {
		return nil
	}
	var b strings.Builder
	b.WriteString("The server exited unexpectedly")
	if status.LastError != "" {
		b.WriteString(": " + status.LastError)
	}
	if n.tail != nil {
		if lines := n.tail(crashTailLines); len(lines) > 0 {
			b.WriteString("\n```\n")
			for _, l := range lines {
				b.WriteString(l.Text + "\n")
			}
			b.WriteString("```")
		}
	}
	return n.sendDiscord(ctx, "Server Crashed", b.String(), colorRed)
}

// SendRestartWarnings counts down the configured intervals, announcing each
// in game through console and on Discord.
func (n *Notification) SendRestartWarnings(ctx context.Context, console Broadcaster) error {
	if len(n.cfg.Notifications.WarningIntervals) == 0 {
		return nil
	}

	intervals := slices.Clone(n.cfg.Notifications.WarningIntervals)
	slices.SortFunc(intervals, func(a, b int) int { return b - a })

	n.logger.Info("Sending restart warnings", zap.Ints("intervals", intervals))

	for i, minutes := range intervals {
		msg := strings.ReplaceAll(n.cfg.Notifications.WarningMessage, "{minutes}", strconv.Itoa(minutes))
		if console != nil && !n.cfg.DryRun {
			if err := console.SendCommand("say " + msg); err != nil {
				n.logger.Warn("In-game warning not delivered", zap.Error(err))
			}
		}
		if err := n.sendDiscord(ctx, "Server Restart Warning", msg, colorOrange); err != nil {
			return err
		}

		if i < len(intervals)-1 {
			wait := time.Duration(minutes-intervals[i+1]) * time.Minute
			n.logger.Info("Waiting before next warning", zap.Duration("wait", wait))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-n.after(wait):
			}
		}
	}
	return nil
}

// HealthCheck verifies webhook configuration and alert settings
func (n *Notification) HealthCheck(_ context.Context) []domain.HealthCheck {
	return []domain.HealthCheck{
		n.checkWebhook(),
		n.checkSettings(),
	}
}

type discordEmbed struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Color       int               `json:"color"`
	Timestamp   string            `json:"timestamp"`
	Footer      map[string]string `json:"footer"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// sendDiscord posts one embed to the configured webhook.
func (n *Notification) sendDiscord(ctx context.Context, title, message string, color int) error {
	webhook := n.cfg.Notifications.DiscordWebhook
	if webhook == "" {
		n.logger.Debug("Discord webhook not configured, skipping")
		return nil
	}

	if n.cfg.DryRun {
		n.logger.Info("Dry run: would send Discord notification", zap.String("title", title))
		return nil
	}

	if len(message) > discordDescriptionLimit {
		message = message[:discordDescriptionLimit-3] + "..."
	}

	payload := discordPayload{
		Embeds: []discordEmbed{{
			Title:       title,
			Description: message,
			Color:       color,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			Footer:      map[string]string{"text": "blockyard"},
		}},
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // webhook URL is user-configured
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer n.client.CloseResponseBody(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return &domain.APIError{
			URL:        webhook,
			StatusCode: resp.StatusCode,
			Message:    "Discord API error",
		}
	}

	n.logger.Debug("Discord notification sent", zap.String("title", title))
	return nil
}

func (n *Notification) checkWebhook() domain.HealthCheck {
	webhook := n.cfg.Notifications.DiscordWebhook
	if webhook == "" {
		return domain.HealthCheck{Name: "Discord webhook", Status: domain.StatusWarn, Message: "Not configured"}
	}
	if !strings.HasPrefix(webhook, "https://discord.com/api/webhooks/") {
		return domain.HealthCheck{Name: "Discord webhook", Status: domain.StatusError, Message: "Invalid URL format"}
	}
	return domain.HealthCheck{Name: "Discord webhook", Status: domain.StatusOK, Message: "Configured"}
}

func (n *Notification) checkSettings() domain.HealthCheck {
	nc := n.cfg.Notifications
	if !nc.ErrorNotifications && !nc.SuccessNotifications && !nc.CrashNotifications {
		return domain.HealthCheck{Name: "Notification settings", Status: domain.StatusWarn, Message: "All disabled"}
	}
	return domain.HealthCheck{Name: "Notification settings", Status: domain.StatusOK, Message: "Configured"}
}
