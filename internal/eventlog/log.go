// Package eventlog keeps the append-only diagnostic trace of a workflow
// session. It is never consulted for state decisions; it exists so a stuck
// or failed run can be explained after the fact.
package eventlog

import (
	"fmt"
	"strings"
	"time"
)

// Entry is one timestamped diagnostic line. Entries are immutable once
// appended.
type Entry struct {
	At      time.Time
	Message string
}

// AppendFunc receives every entry as it is appended.
type AppendFunc func(Entry)

// Log is the in-memory trace for a single session. It is owned by the
// session dispatcher and not safe for concurrent use.
type Log struct {
	entries  []Entry
	onAppend AppendFunc
	journal  *Journal
}

// NewLog builds an empty log. journal may be nil when persistence is
// disabled; onAppend may be nil.
func NewLog(journal *Journal, onAppend AppendFunc) *Log {
	return &Log{journal: journal, onAppend: onAppend}
}

// Append records one formatted entry.
func (l *Log) Append(format string, args ...any) {
	entry := Entry{At: time.Now().UTC(), Message: fmt.Sprintf(format, args...)}
	l.entries = append(l.entries, entry)
	if l.journal != nil {
		// Journal writes are best effort; diagnostics must never fail a session.
		_ = l.journal.Append(entry)
	}
	if l.onAppend != nil {
		l.onAppend(entry)
	}
}

// Entries returns a copy of all entries in append order.
func (l *Log) Entries() []Entry {
	cp := make([]Entry, len(l.entries))
	copy(cp, l.entries)
	return cp
}

// Len returns the number of entries.
func (l *Log) Len() int { return len(l.entries) }

// Flatten renders the trace as plain text, one line per entry.
func (l *Log) Flatten() string {
	return FlattenEntries(l.entries)
}

// FlattenEntries renders entries as plain text for export.
func FlattenEntries(entries []Entry) string {
	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(entry.At.UTC().Format(time.RFC3339))
		b.WriteByte(' ')
		b.WriteString(entry.Message)
		b.WriteByte('\n')
	}
	return b.String()
}
