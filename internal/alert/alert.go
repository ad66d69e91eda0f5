// Package alert delivers operator alerts with deduplication and
// escalation. Sinks are the delivery channels (log, Discord webhook).
package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trader/internal/observability"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one delivered notification.
type Alert struct {
	Severity   Severity
	Title      string
	Message    string
	Fields     map[string]string
	Time       time.Time
	Escalated  bool
	Suppressed int // duplicates swallowed since the previous delivery
}

// Notifier raises alerts.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, title, message string, fields map[string]string) error
}

// Sink delivers an alert to one channel.
type Sink interface {
	Send(ctx context.Context, a Alert) error
}

// Nop discards every alert.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Severity, string, string, map[string]string) error { return nil }

// Options for creating a Dispatcher.
type Options struct {
	Sinks         []Sink
	DedupWindow   time.Duration
	EscalateAfter time.Duration
	Now           func() time.Time
	Logger        zerolog.Logger
}

type openAlert struct {
	first      time.Time
	lastSent   time.Time
	suppressed int
	escalated  bool
}

// Dispatcher fans alerts out to its sinks. An alert repeating within the
// dedup window is suppressed; one still repeating EscalateAfter after it
// was first raised (without Resolve) is re-sent once as CRITICAL.
type Dispatcher struct {
	sinks         []Sink
	dedupWindow   time.Duration
	escalateAfter time.Duration
	now           func() time.Time
	logger        zerolog.Logger

	mu   sync.Mutex
	open map[string]*openAlert
}

var _ Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		sinks:         opts.Sinks,
		dedupWindow:   opts.DedupWindow,
		escalateAfter: opts.EscalateAfter,
		now:           opts.Now,
		logger:        opts.Logger,
		open:          make(map[string]*openAlert),
	}
}

func alertKey(severity Severity, title string) string {
	return string(severity) + "|" + title
}

// Notify implements Notifier. Errors from individual sinks are joined.
func (d *Dispatcher) Notify(ctx context.Context, severity Severity, title, message string, fields map[string]string) error {
	now := d.now()
	a := Alert{Severity: severity, Title: title, Message: message, Fields: fields, Time: now}

	d.mu.Lock()
	key := alertKey(severity, title)
	st, ok := d.open[key]
	switch {
	case !ok:
		d.open[key] = &openAlert{first: now, lastSent: now}
	case d.escalateAfter > 0 && !st.escalated && now.Sub(st.first) >= d.escalateAfter:
		st.escalated = true
		a.Escalated = true
		a.Severity = SeverityCritical
		a.Title = "ESCALATED: " + title
		a.Suppressed = st.suppressed
		st.suppressed = 0
		st.lastSent = now
	case now.Sub(st.lastSent) < d.dedupWindow:
		st.suppressed++
		d.mu.Unlock()
		return nil
	default:
		a.Suppressed = st.suppressed
		st.suppressed = 0
		st.lastSent = now
	}
	d.mu.Unlock()

	var errs []error
	for _, s := range d.sinks {
		err := s.Send(ctx, a)
		observability.RecordAlert(string(a.Severity), err)
		if err != nil {
			d.logger.Error().Err(err).Str("title", a.Title).Msg("alert delivery failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Resolve clears every open alert with this title so the next occurrence
// is delivered immediately and escalation starts over.
func (d *Dispatcher) Resolve(title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sev := range []Severity{SeverityInfo, SeverityWarning, SeverityCritical} {
		delete(d.open, alertKey(sev, title))
	}
}
