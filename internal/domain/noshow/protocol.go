package noshow

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ProtocolSummary reports one pass of the follow-up deadline job.
type ProtocolSummary struct {
	Checked    int       `json:"checked"`
	MarkedLost int       `json:"marked_lost"`
	Alerts     int       `json:"alerts"`
	RanAt      time.Time `json:"ran_at"`
}

// Protocol is the periodic job that closes cases whose response window has
// expired and surfaces the ones that need attention soon.
type Protocol struct {
	cases Repository
	log   zerolog.Logger
}

func NewProtocol(cases Repository, log zerolog.Logger) *Protocol {
	return &Protocol{cases: cases, log: log.With().Str("component", "noshow-protocol").Logger()}
}

// Run walks every open case. Expired cases are marked lost and persisted; a
// persistence failure leaves the case open so the next tick retries it.
func (p *Protocol) Run(ctx context.Context, now time.Time) (*ProtocolSummary, error) {
	open, err := p.cases.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	summary := &ProtocolSummary{Checked: len(open), RanAt: now}
	for _, c := range open {
		report := c.EvaluateDeadline(now)
		if !report.ActionRequired {
			continue
		}

		if now.After(c.ResponseDeadline) {
			if err := c.MarkLost("7-day window expired", now); err != nil {
				p.log.Warn().Str("case", c.ID.String()).Err(err).Msg("mark lost rejected")
				continue
			}
			if err := p.cases.Update(ctx, c); err != nil {
				p.log.Warn().Str("case", c.ID.String()).Err(err).Msg("persist lost case, will retry next tick")
				continue
			}
			summary.MarkedLost++
			continue
		}

		summary.Alerts++
		p.log.Info().Str("case", c.ID.String()).
			Int("days_left", report.DaysUntilDeadline).
			Msg(report.Message)
	}

	p.log.Info().Int("checked", summary.Checked).
		Int("marked_lost", summary.MarkedLost).
		Int("alerts", summary.Alerts).
		Msg("protocol tick complete")
	return summary, nil
}
