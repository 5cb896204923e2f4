package alert

import (
	"log/slog"
	"sync"
	"time"

	"github.com/runledger/runledger/internal/config"
)

// Alert represents a notification triggered by an alert rule firing on an
// ingested episode.
type Alert struct {
	Rule      string         `json:"rule"`
	Severity  string         `json:"severity"` // info, warning, critical
	Message   string         `json:"message"`
	AgentID   string         `json:"agent_id,omitempty"`
	EpisodeID string         `json:"episode_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sender is an interface for alert delivery channels.
type Sender interface {
	Send(alert Alert) error
	Name() string
}

// Manager orchestrates alert delivery with deduplication. The same rule
// firing repeatedly for the same agent within the dedup window is delivered
// once.
type Manager struct {
	mu       sync.Mutex
	senders  []Sender
	dedup    map[string]time.Time // dedupKey → lastSent
	dedupTTL time.Duration
	logger   *slog.Logger
}

// NewManager creates an alert manager with senders registered from config.
func NewManager(cfg config.AlertsConfig, logger *slog.Logger) *Manager {
	m := &Manager{
		senders:  make([]Sender, 0),
		dedup:    make(map[string]time.Time),
		dedupTTL: 5 * time.Minute,
		logger:   logger,
	}

	if cfg.Slack.WebhookURL != "" {
		m.senders = append(m.senders, NewSlackSender(cfg.Slack))
	}
	if cfg.Webhook.URL != "" {
		m.senders = append(m.senders, NewWebhookSender(cfg.Webhook))
	}

	return m
}

// Send dispatches an alert to all configured channels with deduplication.
func (m *Manager) Send(alert Alert) {
	alert.Timestamp = time.Now()

	dedupKey := alert.Rule + "|" + alert.AgentID
	m.mu.Lock()
	if lastSent, ok := m.dedup[dedupKey]; ok && time.Since(lastSent) < m.dedupTTL {
		m.mu.Unlock()
		m.logger.Debug("alert deduplicated", "rule", alert.Rule, "key", dedupKey)
		return
	}
	m.dedup[dedupKey] = time.Now()
	m.mu.Unlock()

	for _, sender := range m.senders {
		go func(s Sender) {
			if err := s.Send(alert); err != nil {
				m.logger.Error("failed to send alert",
					"sender", s.Name(),
					"rule", alert.Rule,
					"error", err,
				)
			}
		}(sender)
	}
}

// PruneDedup removes old dedup entries. Call periodically.
func (m *Manager) PruneDedup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for key, ts := range m.dedup {
		if now.Sub(ts) > m.dedupTTL*2 {
			delete(m.dedup, key)
		}
	}
}

// HasSenders returns true if any alert channels are configured.
func (m *Manager) HasSenders() bool {
	return len(m.senders) > 0
}
