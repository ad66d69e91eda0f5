package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// LogSink writes alerts to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

// Send implements Sink.
func (s LogSink) Send(_ context.Context, a Alert) error {
	var ev *zerolog.Event
	switch a.Severity {
	case SeverityCritical:
		ev = s.Logger.Error()
	case SeverityWarning:
		ev = s.Logger.Warn()
	default:
		ev = s.Logger.Info()
	}
	ev = ev.Str("alert", a.Title).
		Str("severity", string(a.Severity)).
		Bool("escalated", a.Escalated).
		Int("suppressed", a.Suppressed)
	for k, v := range a.Fields {
		ev = ev.Str(k, v)
	}
	ev.Msg(a.Message)
	return nil
}

// Discord embed colors.
const (
	colorInfo     = 0x3498db
	colorWarning  = 0xf1c40f
	colorCritical = 0xe74c3c
)

// DiscordSink posts alerts to a Discord webhook.
type DiscordSink struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSink creates a DiscordSink. A nil client gets a 5s timeout.
func NewDiscordSink(webhookURL string, client *http.Client) *DiscordSink {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &DiscordSink{webhookURL: webhookURL, client: client}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Color       int               `json:"color"`
	Fields      []discordField    `json:"fields,omitempty"`
	Footer      map[string]string `json:"footer"`
	Timestamp   string            `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Send implements Sink.
func (d *DiscordSink) Send(ctx context.Context, a Alert) error {
	if d.webhookURL == "" {
		return nil
	}

	color := colorInfo
	switch a.Severity {
	case SeverityWarning:
		color = colorWarning
	case SeverityCritical:
		color = colorCritical
	}

	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]discordField, 0, len(keys)+1)
	for _, k := range keys {
		fields = append(fields, discordField{Name: k, Value: a.Fields[k], Inline: true})
	}
	if a.Suppressed > 0 {
		fields = append(fields, discordField{Name: "suppressed", Value: fmt.Sprint(a.Suppressed), Inline: true})
	}

	payload := discordPayload{Embeds: []discordEmbed{{
		Title:       fmt.Sprintf("[%s] %s", a.Severity, a.Title),
		Description: a.Message,
		Color:       color,
		Fields:      fields,
		Footer:      map[string]string{"text": "coinbase-trader"},
		Timestamp:   a.Time.UTC().Format(time.RFC3339),
	}}}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord returned status: %d", resp.StatusCode)
	}
	return nil
}
