// Package model holds the shared domain types for the mirror and plan
// subsystems.
package model

import "time"

// Sentinels substituted for missing or unparsable source cells.
const (
	Unknown   = "unknown"
	NoProblem = "none"
)

// SizeClass is the size classification derived from the source's free-text
// size column.
type SizeClass string

const (
	SizeSmall  SizeClass = "small"
	SizeMedium SizeClass = "medium"
	SizeLarge  SizeClass = "large"
	SizeUnset  SizeClass = ""
)

// Date is a calendar date in canonical YYYY-MM-DD form, without time or
// zone. The zero value means "no date".
type Date string

const dateLayout = "2006-01-02"

// DateOf truncates t to its calendar date.
func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

// Valid reports whether d is a well-formed canonical date.
func (d Date) Valid() bool {
	_, err := time.Parse(dateLayout, string(d))
	return err == nil
}

// Time returns the date at midnight UTC. Invalid dates return the zero time.
func (d Date) Time() time.Time {
	t, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Before reports whether d sorts before other. Canonical form makes
// lexicographic comparison correct.
func (d Date) Before(other Date) bool { return d < other }

// DaysUntil returns the whole days from `from` until d.
func (d Date) DaysUntil(from Date) int {
	return int(d.Time().Sub(from.Time()).Hours() / 24)
}

// Record is one mirrored row: an immutable snapshot of a project at last
// sync time. The whole record set is replaced on every sync cycle; there
// are no per-record updates.
type Record struct {
	Name           string
	Enterprise     string
	Kind           string
	District       string
	Zone           string
	TotalValue     float64
	YearlyValue    float64
	Size           SizeClass
	Partner        string
	PartnerCountry string
	Status         string
	Problem        string
	AgencyOwner    string
	RegionOwner    string
	ProblemDue     Date // zero when absent or unparsable
}

// HasProblem reports whether the record carries a real problem note.
func (r Record) HasProblem() bool {
	return r.Problem != "" && r.Problem != NoProblem && r.Problem != Unknown
}

// WorkItem is one mirrored row of the daily works sheet: a task assigned
// to a district with its reported completion status. The set is replaced
// wholesale on every works sync, stamped with that cycle's entry date.
type WorkItem struct {
	District  string
	Task      string
	Status    string // empty until the district reports completion
	EntryDate Date
}

// Done reports whether the item carries a completion note.
func (w WorkItem) Done() bool { return w.Status != "" }

// Plan is one task entry in a (date, owner) scope. ID is a display
// position, renumbered densely on delete; Seq is stable within the scope
// and never reused.
type Plan struct {
	ID          int    `json:"id"`
	Seq         int    `json:"seq"`
	Text        string `json:"text"`
	DueDate     Date   `json:"due_date,omitempty"`
	CreatedAt   string `json:"created_at"`
	Owner       int64  `json:"user_id"`
	Completed   bool   `json:"completed"`
	CompletedAt string `json:"completed_at,omitempty"`
	CompletedBy int64  `json:"completed_by,omitempty"`
	Notified    bool   `json:"notified"`
}
