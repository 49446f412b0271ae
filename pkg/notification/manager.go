// Package notification alerts stewards about incidents that need review.
package notification

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nikoksr/notify"

	"pitwall/pkg/incidents"
)

type Config struct {
	// MinConfidence is the lowest fault confidence worth a steward review.
	MinConfidence float64
	// Cooldown is the minimum spacing between alerts of one session.
	Cooldown time.Duration
	Buffer   int
}

func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.7,
		Cooldown:      30 * time.Second,
		Buffer:        32,
	}
}

type Stats struct {
	Sent       uint64 `json:"sent"`
	Suppressed uint64 `json:"suppressed"`
	Dropped    uint64 `json:"dropped"`
	Failed     uint64 `json:"failed"`
}

type Manager struct {
	ctx      context.Context
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
	pending  chan incidents.IncidentClassification

	mu    sync.Mutex
	last  map[string]time.Time
	stats Stats
}

// NewTelegramNotifier builds a notifier posting to the given chats.
func NewTelegramNotifier(bot *tgbotapi.BotAPI, chatIDs []int64) notify.Notifier {
	tg := &Telegram{}
	tg.SetClient(bot)
	tg.AddReceivers(chatIDs...)
	return notify.NewWithServices(tg)
}

func NewManager(ctx context.Context, notifier notify.Notifier, cfg Config) *Manager {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	return &Manager{
		ctx:      ctx,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		pending:  make(chan incidents.IncidentClassification, cfg.Buffer),
		last:     make(map[string]time.Time),
	}
}

// Enqueue hands a classification to the notification loop without blocking.
func (m *Manager) Enqueue(ic incidents.IncidentClassification) {
	select {
	case m.pending <- ic:
	default:
		m.mu.Lock()
		m.stats.Dropped++
		m.mu.Unlock()
	}
}

func (m *Manager) Start(exitChan <-chan bool) {
	for {
		select {
		case <-exitChan:
			return
		case <-m.ctx.Done():
			return
		case ic := <-m.pending:
			if _, err := m.HandleIncident(ic); err != nil {
				log.Printf("notification: incident %s: %s\n", ic.IncidentID, err)
			}
		}
	}
}

// HandleIncident alerts stewards when the classification needs review and the
// session is not cooling down. It reports whether an alert was sent.
func (m *Manager) HandleIncident(ic incidents.IncidentClassification) (bool, error) {
	if !ic.NeedsReview(m.cfg.MinConfidence) {
		return false, nil
	}

	m.mu.Lock()
	now := m.now()
	if last, found := m.last[ic.SessionID]; found && now.Sub(last) < m.cfg.Cooldown {
		m.stats.Suppressed++
		m.mu.Unlock()
		return false, nil
	}
	m.last[ic.SessionID] = now
	m.mu.Unlock()

	log.Printf("notification: steward review for incident %s in %s\n", ic.IncidentID, ic.SessionID)
	err := m.notifier.Send(m.ctx, fmt.Sprintf("Steward review: session %s", ic.SessionID), Describe(ic))

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.stats.Failed++
		return false, err
	}
	m.stats.Sent++
	return true, nil
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Describe renders a classification as a short steward message.
func Describe(ic incidents.IncidentClassification) string {
	lines := []string{}
	where := fmt.Sprintf("Lap %d", ic.Lap)
	if ic.Corner > 0 {
		where += fmt.Sprintf(", turn %d", ic.Corner)
	}
	lines = append(lines, where)
	lines = append(lines, fmt.Sprintf("Drivers: %s", strings.Join(ic.InvolvedDrivers, " / ")))
	lines = append(lines, fmt.Sprintf("Contact: %s (%s)", ic.Contact.Type, ic.Contact.AggressorPosition))
	atFault := ic.AtFaultDriverID
	if atFault == "" {
		atFault = ic.Fault.PrimaryDriver
	}
	lines = append(lines, fmt.Sprintf("At fault: %s, confidence %.0f%%", atFault, ic.Confidence*100))
	if len(ic.MatchedRules) > 0 {
		lines = append(lines, fmt.Sprintf("Rules: %s", strings.Join(ic.MatchedRules, ", ")))
	}
	return strings.Join(lines, "\n")
}
