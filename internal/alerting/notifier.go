package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification is the single user-facing interrupt raised per cooldown window.
type Notification struct {
	Timestamp time.Time
	Title     string
	Message   string
	Events    []Event
}

// Notifier delivers interrupts to the user.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// LogNotifier writes interrupts to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds the default interrupt sink.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	metricsHit := make([]string, 0, len(note.Events))
	for _, ev := range note.Events {
		metricsHit = append(metricsHit, string(ev.Metric))
	}
	n.logger.Warn().Time("at", note.Timestamp).
		Str("metrics", strings.Join(metricsHit, ",")).
		Msg(note.Title + ": " + note.Message)
	return nil
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TelegramNotifier pushes interrupts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	host     string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier. host labels the message.
func NewTelegramNotifier(botToken, chatID, baseURL, host string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		host:     host,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered alert text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(n.host, note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Time("at", note.Timestamp).Int("breaches", len(note.Events)).Msg("alert delivered (telegram)")
	return nil
}

func renderMessage(host string, note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[" + note.Title + "]\n")
	if host != "" {
		builder.WriteString(fmt.Sprintf("Host: %s\n", host))
	}
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Timestamp.UTC().Format(time.RFC3339)))
	for _, ev := range note.Events {
		value := decimal.NewFromFloat(ev.Value).StringFixed(1)
		builder.WriteString(fmt.Sprintf("%s: %s%% (threshold %d%%)\n", ev.Metric.Label(), value, ev.Threshold))
	}
	if note.Message != "" {
		builder.WriteString(note.Message)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
