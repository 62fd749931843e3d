package conflict

import (
	"errors"
	"sort"
	"time"
)

// Status 冲突状态
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusResolved  Status = "RESOLVED"
	StatusEscalated Status = "ESCALATED"
)

// Strategy decides how votes turn into a resolution.
type Strategy string

const (
	// StrategyVoting resolves by majority of the participants.
	StrategyVoting Strategy = "VOTING"
	// StrategyAuthority only collects votes; the mission authority decides
	// once the deadline passes.
	StrategyAuthority Strategy = "AUTHORITY"
)

var (
	ErrConflictNotFound = errors.New("conflict not found")
	ErrNotParticipant   = errors.New("agent is not a participant of the conflict")
	ErrConflictClosed   = errors.New("conflict is no longer pending")
	ErrInvalidConflict  = errors.New("invalid conflict")
)

// Request describes what the agents disagree about. ID, when set, becomes
// the conflict id.
type Request struct {
	ID          string   `json:"id,omitempty"`
	Topic       string   `json:"topic"`
	Description string   `json:"description,omitempty"`
	Options     []string `json:"options,omitempty"`
	StepID      string   `json:"stepId,omitempty"`
	Data        any      `json:"data,omitempty"`
}

// Conflict is the persisted record of one disagreement.
type Conflict struct {
	ID           string            `json:"id"`
	MissionID    string            `json:"missionId"`
	InitiatorID  string            `json:"initiatorId"`
	Request      Request           `json:"request"`
	Participants []string          `json:"participants"`
	Votes        map[string]string `json:"votes"`
	Strategy     Strategy          `json:"strategy"`
	Status       Status            `json:"status"`
	Deadline     time.Time         `json:"deadline"`
	Resolution   string            `json:"resolution,omitempty"`
	// Reason explains an escalation.
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsParticipant reports whether agentID may vote.
func (c *Conflict) IsParticipant(agentID string) bool {
	for _, p := range c.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

// Expired reports whether a pending conflict is past its deadline.
func (c *Conflict) Expired(now time.Time) bool {
	return c.Status == StatusPending && !c.Deadline.IsZero() && now.After(c.Deadline)
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeResolved
	outcomeTied
)

// tally recomputes the vote result from the full vote map, so the outcome
// does not depend on the order votes arrived in. A choice held by a strict
// majority of participants wins at once. Otherwise, once everyone has
// voted, a unique plurality wins and a tie is reported.
func tally(votes map[string]string, participants []string) (outcome, string) {
	if len(participants) == 0 {
		return outcomePending, ""
	}

	counts := make(map[string]int)
	voted := 0
	for _, p := range participants {
		if choice, ok := votes[p]; ok {
			counts[choice]++
			voted++
		}
	}
	if voted == 0 {
		return outcomePending, ""
	}

	choices := make([]string, 0, len(counts))
	for c := range counts {
		choices = append(choices, c)
	}
	sort.Strings(choices)

	best, bestCount, tied := "", 0, false
	for _, c := range choices {
		switch n := counts[c]; {
		case n > bestCount:
			best, bestCount, tied = c, n, false
		case n == bestCount:
			tied = true
		}
	}

	if bestCount*2 > len(participants) {
		return outcomeResolved, best
	}
	if voted < len(participants) {
		return outcomePending, ""
	}
	if tied {
		return outcomeTied, ""
	}
	return outcomeResolved, best
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
