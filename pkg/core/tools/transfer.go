package tools

import (
	"context"
	"sort"
	"strings"
)

// TransferRule routes a transfer request to a destination. Rules are
// ordered by ascending Priority; lower numbers win.
type TransferRule struct {
	Keywords     []string
	Destination  string
	DisplayName  string
	Announcement string
	Priority     int
}

// TransferTarget is the resolved destination for a call transfer.
type TransferTarget struct {
	Destination  string
	DisplayName  string
	Announcement string
}

// CallControl issues the transfer instruction on the live call.
type CallControl interface {
	Transfer(ctx context.Context, callID string, target TransferTarget) error
}

// matchTransferRule picks the rule whose keywords appear in the
// model-supplied reason. With no keyword hit it falls back to the
// highest-priority rule so a transfer request never goes unanswered.
func matchTransferRule(rules []TransferRule, reason string) (TransferRule, bool) {
	if len(rules) == 0 {
		return TransferRule{}, false
	}
	ordered := make([]TransferRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	reason = strings.ToLower(reason)
	for _, rule := range ordered {
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(reason, kw) {
				return rule, true
			}
		}
	}
	return ordered[0], true
}
