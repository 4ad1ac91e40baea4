package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	discordUsername = "aquachroma"
	discordTimeout  = 10 * time.Second
)

// DiscordNotifier posts notifications to a Discord channel webhook.
type DiscordNotifier struct {
	session *discordgo.Session
	id      string
	token   string
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDiscordNotifier creates a notifier from a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}.
func NewDiscordNotifier(webhookURL string, logger *slog.Logger) (*DiscordNotifier, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	// Webhook execution needs no bot token.
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordNotifier{session: session, id: id, token: token, logger: logger}, nil
}

// Notify posts in the background so a slow webhook never stalls the caller.
// Close waits for posts still in flight.
func (d *DiscordNotifier) Notify(ctx context.Context, n Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Debug("discord notifier closed, dropping notification", "message", n.Message)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.send(context.WithoutCancel(ctx), n)
	}()
}

// Close waits for pending posts, each bounded by the webhook timeout.
// Notifications sent after Close are dropped.
func (d *DiscordNotifier) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

func (d *DiscordNotifier) send(ctx context.Context, n Notification) {
	ctx, cancel := context.WithTimeout(ctx, discordTimeout)
	defer cancel()

	params := &discordgo.WebhookParams{
		Username: discordUsername,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       strings.ToUpper(string(n.Level)),
			Description: n.Message,
			Color:       levelColor(n.Level),
			Timestamp:   n.Time.Format(time.RFC3339),
		}},
	}
	if _, err := d.session.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx)); err != nil {
		d.logger.Warn("discord notification failed", "error", err)
	}
}

func levelColor(l Level) int {
	switch l {
	case LevelSuccess:
		return 0x2ecc71
	case LevelWarning:
		return 0xf1c40f
	case LevelError:
		return 0xe74c3c
	default:
		return 0x3498db
	}
}

func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// api/webhooks/{id}/{token}
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook url %q has no /webhooks/{id}/{token} path", u.Redacted())
}
