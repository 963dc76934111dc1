package reports

import (
	"context"
	"fmt"
	"strings"

	"github.com/projectpulse/projectpulse/internal/model"
)

// maxDigestLen caps digest text so it always fits a single outbound
// message.
const maxDigestLen = 3500

// problemDigestPageSize bounds how many individual problem records a
// digest lists before falling back to counts only.
const problemDigestPageSize = 10

// ProblemDigest builds the daily problem report text: headline counts,
// due-date buckets and the most urgent open problems.
func (s *Service) ProblemDigest(ctx context.Context) (string, error) {
	sum, err := s.Summary(ctx)
	if err != nil {
		return "", fmt.Errorf("problem digest: %w", err)
	}
	due, err := s.DueStats(ctx)
	if err != nil {
		return "", fmt.Errorf("problem digest: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Daily problem report, %s\n\n", model.DateOf(s.clock()))
	fmt.Fprintf(&b, "Projects: %d, with open problems: %d\n", sum.TotalCount, sum.ProblemCount)
	fmt.Fprintf(&b, "Deadlines set: %d, overdue: %d, due within 3 days: %d\n", due.WithDue, due.Overdue, due.DueSoon)

	if sum.ProblemCount > 0 {
		page, err := s.Problems(ctx, 1)
		if err != nil {
			return "", fmt.Errorf("problem digest: %w", err)
		}
		b.WriteString("\nMost urgent:\n")
		for i, r := range page.Records {
			if i >= problemDigestPageSize {
				break
			}
			line := fmt.Sprintf("%d. %s (%s)", i+1, r.Name, r.District)
			if r.ProblemDue != "" {
				line += fmt.Sprintf(", due %s", r.ProblemDue)
			}
			b.WriteString(line + "\n")
		}
		if page.Total > problemDigestPageSize {
			fmt.Fprintf(&b, "...and %d more\n", page.Total-problemDigestPageSize)
		}
	}
	return clip(b.String()), nil
}

// WorksDigest builds the daily works report: task and district counts
// for the latest recorded entry date.
func (s *Service) WorksDigest(ctx context.Context) (string, error) {
	sum, err := s.WorkStats(ctx)
	if err != nil {
		return "", fmt.Errorf("works digest: %w", err)
	}

	var b strings.Builder
	b.WriteString("Daily works report\n")
	if sum.LastDate == "" {
		b.WriteString("\nNo works recorded yet.\n")
		return b.String(), nil
	}

	fmt.Fprintf(&b, "Date: %s\n\n", sum.LastDate)
	if sum.TotalTasks == 0 {
		b.WriteString("No works recorded for this date.\n")
		return b.String(), nil
	}
	pct := sum.CompletedTasks * 100 / sum.TotalTasks
	fmt.Fprintf(&b, "Tasks: %d, completed: %d (%d%%), open: %d\n",
		sum.TotalTasks, sum.CompletedTasks, pct, sum.TotalTasks-sum.CompletedTasks)
	fmt.Fprintf(&b, "Districts reporting: %d\n", sum.ActiveDistricts)
	return b.String(), nil
}

// PlanDigest builds the daily plan report from today's entries grouped
// by owner. An empty entry set produces a short "no plans" text.
func PlanDigest(date model.Date, entries []model.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily plan report, %s\n", date)
	if len(entries) == 0 {
		b.WriteString("\nNo plans recorded today.\n")
		return b.String()
	}

	byOwner := make(map[int64][]model.Plan)
	var owners []int64
	for _, p := range entries {
		if _, seen := byOwner[p.Owner]; !seen {
			owners = append(owners, p.Owner)
		}
		byOwner[p.Owner] = append(byOwner[p.Owner], p)
	}

	for _, owner := range owners {
		plans := byOwner[owner]
		done := 0
		for _, p := range plans {
			if p.Completed {
				done++
			}
		}
		fmt.Fprintf(&b, "\nUser %d: %d/%d done\n", owner, done, len(plans))
		for _, p := range plans {
			mark := "[ ]"
			if p.Completed {
				mark = "[x]"
			}
			line := fmt.Sprintf("%s %d. %s", mark, p.ID, p.Text)
			if p.DueDate != "" {
				line += fmt.Sprintf(" (due %s)", p.DueDate)
			}
			b.WriteString(line + "\n")
		}
	}
	return clip(b.String())
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxDigestLen {
		return s
	}
	return string(r[:maxDigestLen])
}
