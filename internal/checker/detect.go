package checker

import "github.com/tracyhatemice/gomailcheck/internal/history"

// Changed reports whether cur differs from prev in count, sender or
// subject. Any single differing field is a change, including a count
// decrease.
//
// Message identity is not compared: a new message with the same sender and
// subject as the previous newest one goes unnoticed when the count is also
// unchanged (for example one message deleted and one received between polls).
func Changed(prev, cur history.Observation) bool {
	return prev.EmailCount != cur.EmailCount ||
		prev.LastSender != cur.LastSender ||
		prev.LastSubject != cur.LastSubject
}
