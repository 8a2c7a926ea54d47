package session

import "sort"

type autoAction int

const (
	autoNone autoAction = iota
	autoStart
	autoStop
	autoHop
)

func (a autoAction) String() string {
	switch a {
	case autoStart:
		return "start"
	case autoStop:
		return "stop"
	case autoHop:
		return "hop"
	default:
		return "none"
	}
}

// autoInput is the guild's occupancy after one counted member's voice
// state change.
type autoInput struct {
	occupied        bool // any session holds the guild slot
	tracking        bool // that session is an auto-managed recording
	joined          bool // the member is now in some voice channel
	leftTracked     bool // the member is not in the tracked channel
	trackedCount    int  // counted members left in the tracked channel
	siblingOccupied bool
}

type autoRule struct {
	name   string
	match  func(autoInput) bool
	action autoAction
}

// autoRules is evaluated top to bottom; the first match wins. A move between
// channels is a leave of the old channel and a join of the new one.
var autoRules = []autoRule{
	{
		name: "tracked channel emptied while another channel is occupied",
		match: func(in autoInput) bool {
			return in.tracking && in.leftTracked && in.trackedCount == 0 && in.siblingOccupied
		},
		action: autoHop,
	},
	{
		name: "tracked channel emptied",
		match: func(in autoInput) bool {
			return in.tracking && in.leftTracked && in.trackedCount == 0
		},
		action: autoStop,
	},
	{
		name: "member joined with no session running",
		match: func(in autoInput) bool {
			return !in.occupied && in.joined
		},
		action: autoStart,
	},
}

func decideAuto(in autoInput) (autoAction, string) {
	for _, rule := range autoRules {
		if rule.match(in) {
			return rule.action, rule.name
		}
	}
	return autoNone, ""
}

// pickSibling returns an occupied voice channel other than tracked, preferring
// preferred when it has members. counts maps channel id to counted members.
func pickSibling(counts map[string]int, tracked, preferred string) string {
	if preferred != "" && preferred != tracked && counts[preferred] > 0 {
		return preferred
	}
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if id != tracked && counts[id] > 0 {
			return id
		}
	}
	return ""
}
