// Package ledger derives filtered, paged views over the session's cached
// transactions and turns them into downloadable documents.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
)

var (
	ErrInvalidRange    = errors.New("from date must not be after to date")
	ErrMissingRange    = errors.New("from and to dates are required")
	ErrUnknownDuration = errors.New("unknown duration")
)

type Duration string

const (
	DurationAll         Duration = "all"
	DurationToday       Duration = "today"
	DurationYesterday   Duration = "yesterday"
	DurationThisWeek    Duration = "this_week"
	DurationLastWeek    Duration = "last_week"
	DurationThisMonth   Duration = "this_month"
	DurationLastMonth   Duration = "last_month"
	DurationLast3Months Duration = "last_3_months"
	DurationLast6Months Duration = "last_6_months"
	DurationThisYear    Duration = "this_year"
	DurationCustom      Duration = "custom"
)

const (
	statusAll  = "all"
	dateLayout = "2006-01-02"
)

// Query is the full set of client-side predicates. The zero value matches
// everything.
type Query struct {
	Status   string    `json:"status"`
	Search   string    `json:"search"`
	Duration Duration  `json:"duration"`
	From     time.Time `json:"from,omitempty"`
	To       time.Time `json:"to,omitempty"`
}

// Validate rejects durations it doesn't know and custom ranges that are
// missing or reversed.
func (q Query) Validate() error {
	switch q.Duration {
	case "", DurationAll, DurationToday, DurationYesterday, DurationThisWeek, DurationLastWeek,
		DurationThisMonth, DurationLastMonth, DurationLast3Months, DurationLast6Months, DurationThisYear:
		return nil
	case DurationCustom:
		return checkRange(q.From, q.To)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDuration, q.Duration)
	}
}

func checkRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return ErrMissingRange
	}
	if dayOf(from).After(dayOf(to)) {
		return ErrInvalidRange
	}
	return nil
}

// ParseDate reads a yyyy-mm-dd date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected yyyy-mm-dd", s)
	}
	return t, nil
}

// Window returns the half-open interval [from, to) a duration covers at now.
// ok is false when the duration has no bounds.
func Window(d Duration, from, to, now time.Time) (start, end time.Time, ok bool) {
	today := startOfDay(now)
	switch d {
	case DurationToday:
		return today, today.AddDate(0, 0, 1), true
	case DurationYesterday:
		return today.AddDate(0, 0, -1), today, true
	case DurationThisWeek:
		monday := startOfWeek(today)
		return monday, monday.AddDate(0, 0, 7), true
	case DurationLastWeek:
		monday := startOfWeek(today)
		return monday.AddDate(0, 0, -7), monday, true
	case DurationThisMonth:
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		return first, first.AddDate(0, 1, 0), true
	case DurationLastMonth:
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		return first.AddDate(0, -1, 0), first, true
	case DurationLast3Months:
		return today.AddDate(0, -3, 0), today.AddDate(0, 0, 1), true
	case DurationLast6Months:
		return today.AddDate(0, -6, 0), today.AddDate(0, 0, 1), true
	case DurationThisYear:
		jan1 := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, today.Location())
		return jan1, jan1.AddDate(1, 0, 0), true
	case DurationCustom:
		if from.IsZero() || to.IsZero() {
			return time.Time{}, time.Time{}, false
		}
		loc := now.Location()
		return startOfDay(from.In(loc)), startOfDay(to.In(loc)).AddDate(0, 0, 1), true
	}
	return time.Time{}, time.Time{}, false
}

// Filter returns the transactions matching q, in their original order.
// Relative windows are computed from now on every call.
func Filter(txs []wallet.Transaction, q Query, now time.Time) []wallet.Transaction {
	start, end, bounded := Window(q.Duration, q.From, q.To, now)
	needle := normalizeSearch(q.Search)

	out := make([]wallet.Transaction, 0, len(txs))
	for _, t := range txs {
		if !matchStatus(t, q.Status) {
			continue
		}
		if needle != "" && !matchSearch(t, needle) {
			continue
		}
		if bounded && (t.CreatedAt.Before(start) || !t.CreatedAt.Before(end)) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matchStatus(t wallet.Transaction, status string) bool {
	status = strings.TrimSpace(status)
	if status == "" || strings.EqualFold(status, statusAll) {
		return true
	}
	return strings.EqualFold(string(t.Status), status)
}

func normalizeSearch(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func matchSearch(t wallet.Transaction, needle string) bool {
	fields := []string{t.Description, string(t.Type), t.Reference, t.Amount.Naira()}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	// "5,000" should find a 5000.00 amount.
	if plain := strings.ReplaceAll(needle, ",", ""); plain != needle {
		return strings.Contains(t.Amount.Naira(), plain)
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Weeks start on Monday.
func startOfWeek(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
