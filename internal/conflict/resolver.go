// Package conflict decides whether an incoming version of a registration
// supersedes the stored one. The only strategy is timestamp last-write-wins:
// the newer updated_at replaces the whole record, with no field-level merge.
package conflict

import (
	"time"
)

// Decision is the outcome of comparing a stored record with an incoming one
type Decision string

const (
	// DecisionInsert means no stored copy exists
	DecisionInsert Decision = "insert"
	// DecisionReplace means the incoming copy is strictly newer
	DecisionReplace Decision = "replace"
	// DecisionKeep means the stored copy is as new or newer
	DecisionKeep Decision = "keep"
)

// Supersedes reports whether incoming is strictly newer than current
// Equal timestamps keep the current copy, so re-applying a record is a no-op
func Supersedes(current, incoming time.Time) bool {
	return incoming.After(current)
}

// Resolve compares a possibly absent stored timestamp with an incoming one
func Resolve(current *time.Time, incoming time.Time) Decision {
	if current == nil {
		return DecisionInsert
	}
	if Supersedes(*current, incoming) {
		return DecisionReplace
	}
	return DecisionKeep
}
