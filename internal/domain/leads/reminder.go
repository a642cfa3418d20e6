package leads

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cliniflow/cliniflow/internal/platform/messaging"
)

// Reminder sends one appointment reminder per confirmed lead per calendar
// day. Dedup state is in-process; a restart may re-send, which is acceptable
// for a courtesy message.
type Reminder struct {
	records Repository
	sender  messaging.Port
	log     zerolog.Logger

	mu   sync.Mutex
	sent map[string]bool
}

func NewReminder(records Repository, sender messaging.Port, log zerolog.Logger) *Reminder {
	return &Reminder{
		records: records,
		sender:  sender,
		log:     log.With().Str("component", "reminder").Logger(),
		sent:    make(map[string]bool),
	}
}

// ReminderSummary reports one reminder pass.
type ReminderSummary struct {
	Scanned int       `json:"scanned"`
	Sent    int       `json:"sent"`
	Skipped int       `json:"skipped"`
	RanAt   time.Time `json:"ran_at"`
}

// Run messages every lead with a confirmed appointment that has not been
// reminded today. Delivery failures skip the lead and leave it eligible for
// the next tick.
func (r *Reminder) Run(ctx context.Context, now time.Time) (*ReminderSummary, error) {
	all, err := r.records.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	day := now.Format("2006-01-02")
	r.prune(day)
	summary := &ReminderSummary{Scanned: len(all), RanAt: now}
	for _, l := range all {
		if l.AppointmentStatus != AppointmentConfirmed || l.ConversationBlocked {
			continue
		}
		key := l.ID.String() + ":" + day
		r.mu.Lock()
		already := r.sent[key]
		r.mu.Unlock()
		if already {
			summary.Skipped++
			continue
		}

		recipient := l.ID.String()
		if l.Phone != nil && *l.Phone != "" {
			recipient = *l.Phone
		}
		text := fmt.Sprintf("Hola %s! Te recordamos tu cita confirmada. Te esperamos!", l.Name)
		if _, err := r.sender.Send(ctx, reminderChannel(l), recipient, text); err != nil {
			r.log.Warn().Str("lead", l.ID.String()).Err(err).Msg("reminder failed")
			continue
		}

		r.mu.Lock()
		r.sent[key] = true
		r.mu.Unlock()
		summary.Sent++
	}

	r.log.Info().Int("scanned", summary.Scanned).
		Int("sent", summary.Sent).
		Int("skipped", summary.Skipped).
		Msg("reminder tick complete")
	return summary, nil
}

// prune drops dedup entries from previous days so the map stays bounded by
// the number of leads reminded today.
func (r *Reminder) prune(day string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.sent {
		if !strings.HasSuffix(key, ":"+day) {
			delete(r.sent, key)
		}
	}
}

func reminderChannel(l *Lead) messaging.Channel {
	switch l.Channel {
	case ChannelFacebook:
		return messaging.ChannelFacebook
	case ChannelInstagram:
		return messaging.ChannelInstagram
	default:
		return messaging.ChannelWhatsApp
	}
}
