package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	ChannelAnnounce     = "announce"
	ChannelNotification = "notification"
)

type Message struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

type Provider interface {
	Send(ctx context.Context, message Message, recipient string) error
}

// NewProvider resolves a provider kind for a channel. Unknown kinds and
// webhooks without a URL fall back to logging.
func NewProvider(kind, channel string, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch kind {
	case "", "stub", "log":
		return logProvider{channel: channel, logger: logger}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		url := os.Getenv("NOTIF_" + strings.ToUpper(channel) + "_WEBHOOK_URL")
		token := os.Getenv("NOTIF_" + strings.ToUpper(channel) + "_WEBHOOK_TOKEN")
		if url == "" {
			return logProvider{channel: channel, logger: logger}
		}
		return webhookProvider{channel: channel, url: url, token: token}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return webhookProvider{channel: channel, url: kind}
		}
		return logProvider{channel: channel, logger: logger}
	}
}

type logProvider struct {
	channel string
	logger  *zap.Logger
}

func (p logProvider) Send(ctx context.Context, message Message, recipient string) error {
	p.logger.Info("send message",
		zap.String("channel", p.channel),
		zap.String("recipient", recipient),
		zap.String("title", message.Title),
		zap.String("body", message.Body),
	)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, message Message, recipient string) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, message Message, recipient string) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	channel string
	url     string
	token   string
}

func (p webhookProvider) Send(ctx context.Context, message Message, recipient string) error {
	payload := map[string]string{
		"channel":   p.channel,
		"recipient": recipient,
		"title":     message.Title,
		"message":   message.Body,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("provider rejected request")
	}
	return nil
}
