package automation

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cliniflow/cliniflow/internal/domain/leads"
)

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// splitList parses a comma-separated value into normalized items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := norm(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func compareStrings(op, have, want string) bool {
	have, want = norm(have), norm(want)
	switch op {
	case OpEQ:
		return have == want
	case OpNEQ:
		return have != want
	case OpContains:
		return strings.Contains(have, want)
	case OpNotContains:
		return !strings.Contains(have, want)
	case OpIn:
		for _, w := range splitList(want) {
			if have == w {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, w := range splitList(want) {
			if have == w {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func compareInts(op string, have, want int) bool {
	switch op {
	case OpGT:
		return have > want
	case OpLT:
		return have < want
	case OpGTE:
		return have >= want
	case OpLTE:
		return have <= want
	case OpEQ:
		return have == want
	case OpNEQ:
		return have != want
	default:
		return false
	}
}

func compareIntValue(op string, have int, rawWant string) bool {
	want, err := strconv.Atoi(strings.TrimSpace(rawWant))
	if err != nil {
		return false
	}
	return compareInts(op, have, want)
}

// expandChannels resolves the "social" alias into the concrete channels.
func expandChannels(items []string) []string {
	var out []string
	for _, it := range items {
		if it == "social" {
			out = append(out, leads.ChannelFacebook, leads.ChannelInstagram)
			continue
		}
		out = append(out, it)
	}
	return out
}

func channelMatches(op, have, want string) bool {
	have = norm(have)
	switch op {
	case OpEQ, OpIn:
		for _, w := range expandChannels(splitList(want)) {
			if have == w {
				return true
			}
		}
		return false
	case OpNEQ, OpNotIn:
		for _, w := range expandChannels(splitList(want)) {
			if have == w {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func uuidMatches(op string, have *string, want string) bool {
	h := ""
	if have != nil {
		h = *have
	}
	switch op {
	case OpEQ, OpNEQ, OpIn, OpNotIn:
		return compareStrings(op, h, want)
	default:
		return false
	}
}

// evalCondition evaluates one predicate against a lead at the given instant.
// Unknown types and operators fail closed.
func (r *Rule) evalCondition(c Condition, l *leads.Lead, now time.Time) bool {
	switch c.Type {
	case CondStatus:
		return compareStrings(c.Operator, l.Status, c.Value)

	case CondChannel:
		return channelMatches(c.Operator, l.Channel, c.Value)

	case CondTag:
		switch c.Operator {
		case OpEQ, OpContains:
			return l.HasTag(strings.TrimSpace(c.Value))
		case OpNEQ, OpNotContains:
			return !l.HasTag(strings.TrimSpace(c.Value))
		case OpIn:
			for _, w := range splitList(c.Value) {
				for _, t := range l.Tags {
					if norm(t) == w {
						return true
					}
				}
			}
			return false
		case OpNotIn:
			for _, w := range splitList(c.Value) {
				for _, t := range l.Tags {
					if norm(t) == w {
						return false
					}
				}
			}
			return true
		}
		return false

	case CondBranch:
		return uuidMatches(c.Operator, uuidPtrString(l.BranchID), c.Value)
	case CondCampaign:
		return uuidMatches(c.Operator, uuidPtrString(l.CampaignID), c.Value)
	case CondService:
		return uuidMatches(c.Operator, uuidPtrString(l.ServiceID), c.Value)
	case CondSource:
		return uuidMatches(c.Operator, uuidPtrString(l.SourceID), c.Value)

	case CondAttemptCount:
		return compareIntValue(c.Operator, l.AttemptCount, c.Value)

	case CondNumericThreshold:
		return compareIntValue(c.Operator, l.Score, c.Value)

	case CondDaysWithoutResponse:
		return compareIntValue(c.Operator, l.DaysSinceLastResponse(now), c.Value)

	case CondTimeInStatus:
		want := strings.TrimSpace(c.Value)
		if want == "" {
			// Fall back to the rule's SLA threshold for the lead's status.
			hours, ok := r.SLAThresholds[l.Status]
			if !ok {
				return false
			}
			return compareInts(c.Operator, l.HoursInCurrentStatus(now), hours)
		}
		return compareIntValue(c.Operator, l.HoursInCurrentStatus(now), want)

	case CondMessagingWindow:
		// Only social channels have a platform messaging window; everything
		// else passes vacuously.
		if l.Channel != leads.ChannelFacebook && l.Channel != leads.ChannelInstagram {
			return true
		}
		return compareIntValue(c.Operator, l.DaysSinceLastResponse(now), c.Value)

	case CondFreeTextContains:
		text := ""
		if l.LastMessageText != nil {
			text = *l.LastMessageText
		}
		switch c.Operator {
		case OpContains, OpEQ:
			return strings.Contains(norm(text), norm(c.Value))
		case OpNotContains, OpNEQ:
			return !strings.Contains(norm(text), norm(c.Value))
		}
		return false
	}
	return false
}

func uuidPtrString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

// Matches reports whether every condition of the rule holds for the lead.
// Conditions short-circuit on the first failure.
func (r *Rule) Matches(l *leads.Lead, now time.Time) bool {
	for _, c := range r.Conditions {
		if !r.evalCondition(c, l, now) {
			return false
		}
	}
	return true
}
