package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
)

var lagos = time.FixedZone("WAT", 60*60)

// Wednesday.
var now = time.Date(2025, time.March, 12, 10, 0, 0, 0, lagos)

func at(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, lagos)
}

func fixtures() []wallet.Transaction {
	return []wallet.Transaction{
		{ID: "t1", Type: wallet.TransactionDeposit, Amount: 500000, Status: wallet.TransactionSuccess, Reference: "REF-001", Description: "Salary March", CreatedAt: at(2025, time.March, 12, 8)},
		{ID: "t2", Type: wallet.TransactionWithdrawal, Amount: 250000, Status: wallet.TransactionPending, Reference: "REF-002", Description: "Rent, Lekki", CreatedAt: at(2025, time.March, 11, 15)},
		{ID: "t3", Type: wallet.TransactionAirtime, Amount: 10000, Status: wallet.TransactionFailed, Reference: "REF-003", Description: "MTN top up", CreatedAt: at(2025, time.March, 4, 9)},
		{ID: "t4", Type: wallet.TransactionTransfer, Amount: 1250000, Status: wallet.TransactionSuccess, Reference: "REF-004", Description: "School fees", CreatedAt: at(2025, time.February, 20, 12)},
		{ID: "t5", Type: wallet.TransactionElectricity, Amount: 300000, Status: wallet.TransactionFailed, Reference: "REF-005", Description: "Ikeja Electric", CreatedAt: at(2024, time.November, 20, 18)},
		{ID: "t6", Type: wallet.TransactionCable, Amount: 75000, Status: wallet.TransactionProcessing, Reference: "REF-006", Description: "DSTV", CreatedAt: at(2025, time.January, 5, 7)},
	}
}

func ids(txs []wallet.Transaction) []string {
	out := make([]string, 0, len(txs))
	for _, t := range txs {
		out = append(out, t.ID)
	}
	return out
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name     string
		query    Query
		expected []string
	}{
		{name: "Zero query matches all", query: Query{}, expected: []string{"t1", "t2", "t3", "t4", "t5", "t6"}},
		{name: "Status all", query: Query{Status: "all"}, expected: []string{"t1", "t2", "t3", "t4", "t5", "t6"}},
		{name: "Status exact", query: Query{Status: "success"}, expected: []string{"t1", "t4"}},
		{name: "Status any case", query: Query{Status: "FAILED"}, expected: []string{"t3", "t5"}},
		{name: "Search description", query: Query{Search: "rent"}, expected: []string{"t2"}},
		{name: "Search type", query: Query{Search: "AIRTIME"}, expected: []string{"t3"}},
		{name: "Search reference", query: Query{Search: "ref-001"}, expected: []string{"t1"}},
		{name: "Search amount", query: Query{Search: "5000"}, expected: []string{"t1"}},
		{name: "Search grouped amount", query: Query{Search: "5,000"}, expected: []string{"t1"}},
		{name: "Search no match", query: Query{Search: "bitcoin"}, expected: []string{}},
		{name: "Today", query: Query{Duration: DurationToday}, expected: []string{"t1"}},
		{name: "Yesterday", query: Query{Duration: DurationYesterday}, expected: []string{"t2"}},
		{name: "This week", query: Query{Duration: DurationThisWeek}, expected: []string{"t1", "t2"}},
		{name: "Last week", query: Query{Duration: DurationLastWeek}, expected: []string{"t3"}},
		{name: "This month", query: Query{Duration: DurationThisMonth}, expected: []string{"t1", "t2", "t3"}},
		{name: "Last month", query: Query{Duration: DurationLastMonth}, expected: []string{"t4"}},
		{name: "Last 3 months", query: Query{Duration: DurationLast3Months}, expected: []string{"t1", "t2", "t3", "t4", "t6"}},
		{name: "Last 6 months", query: Query{Duration: DurationLast6Months}, expected: []string{"t1", "t2", "t3", "t4", "t5", "t6"}},
		{name: "This year", query: Query{Duration: DurationThisYear}, expected: []string{"t1", "t2", "t3", "t4", "t6"}},
		{
			name:     "Custom range is inclusive by day",
			query:    Query{Duration: DurationCustom, From: at(2025, time.March, 4, 0), To: at(2025, time.March, 11, 0)},
			expected: []string{"t2", "t3"},
		},
		{
			name:     "Predicates combine",
			query:    Query{Status: "success", Search: "fees", Duration: DurationThisYear},
			expected: []string{"t4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(fixtures(), tt.query, now)
			assert.Equal(t, tt.expected, ids(got))
		})
	}
}

func TestFilter_ResultIsExactlyTheMatchingSubset(t *testing.T) {
	statuses := []string{"", "all", "success", "pending", "failed", "processing"}
	searches := []string{"", "ref", "e", "2500", "lekki"}
	durations := []Duration{DurationAll, DurationToday, DurationThisWeek, DurationThisMonth, DurationLast3Months, DurationThisYear}

	all := fixtures()
	for _, st := range statuses {
		for _, se := range searches {
			for _, d := range durations {
				q := Query{Status: st, Search: se, Duration: d}
				got := Filter(all, q, now)

				// Each transaction appears iff it passes on its own.
				want := []string{}
				for _, tx := range all {
					if len(Filter([]wallet.Transaction{tx}, q, now)) == 1 {
						want = append(want, tx.ID)
					}
				}
				require.Equal(t, want, ids(got), "query %+v", q)
				require.Equal(t, ids(got), ids(Filter(got, q, now)), "query %+v", q)
			}
		}
	}
}

func TestWindow_FollowsNow(t *testing.T) {
	tx := []wallet.Transaction{{ID: "late", CreatedAt: at(2025, time.March, 12, 23)}}

	assert.Len(t, Filter(tx, Query{Duration: DurationToday}, now), 1)
	assert.Empty(t, Filter(tx, Query{Duration: DurationToday}, now.AddDate(0, 0, 1)))
	assert.Len(t, Filter(tx, Query{Duration: DurationYesterday}, now.AddDate(0, 0, 1)), 1)
}

func TestWindow_WeekStartsMonday(t *testing.T) {
	sunday := time.Date(2025, time.March, 16, 12, 0, 0, 0, lagos)
	start, end, ok := Window(DurationThisWeek, time.Time{}, time.Time{}, sunday)

	require.True(t, ok)
	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, 10, start.Day())
	assert.Equal(t, 17, end.Day())
}

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name     string
		query    Query
		expected error
	}{
		{name: "Relative window", query: Query{Duration: DurationLastMonth}},
		{name: "Empty", query: Query{}},
		{name: "Unknown duration", query: Query{Duration: "fortnight"}, expected: ErrUnknownDuration},
		{name: "Custom without dates", query: Query{Duration: DurationCustom}, expected: ErrMissingRange},
		{
			name:     "Custom reversed",
			query:    Query{Duration: DurationCustom, From: at(2025, time.March, 5, 0), To: at(2025, time.March, 4, 0)},
			expected: ErrInvalidRange,
		},
		{
			name:  "Custom single day",
			query: Query{Duration: DurationCustom, From: at(2025, time.March, 4, 0), To: at(2025, time.March, 4, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.expected == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-04", lagos)
	require.NoError(t, err)
	assert.True(t, at(2025, time.March, 4, 0).Equal(d))

	_, err = ParseDate("04/03/2025", lagos)
	assert.Error(t, err)
}
