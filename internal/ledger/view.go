package ledger

import (
	"sync"
	"time"

	"github.com/zidewell/zidwell-team-sub000/internal/store"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
)

// Source is the read side of the financial state store.
type Source interface {
	Transactions() store.Snapshot[wallet.TransactionPage]
}

// Page is what a ledger surface renders.
type Page struct {
	Query        Query                `json:"query"`
	Transactions []wallet.Transaction `json:"transactions"`
	Visible      int                  `json:"visible"`
	Filtered     int                  `json:"filtered"`
	Total        int                  `json:"total"`
	HasMore      bool                 `json:"hasMore"`
	Loaded       bool                 `json:"loaded"`
	Stale        bool                 `json:"stale"`
	Error        string               `json:"error,omitempty"`
}

// View keeps the query and load-more watermark of one ledger surface.
// Everything else is derived from the store on each read.
type View struct {
	src      Source
	pageSize int
	loc      *time.Location
	now      func() time.Time

	mu        sync.Mutex
	query     Query
	watermark int
}

func NewView(src Source, pageSize int, loc *time.Location) *View {
	if pageSize <= 0 {
		pageSize = 10
	}
	if loc == nil {
		loc = time.UTC
	}
	return &View{
		src:       src,
		pageSize:  pageSize,
		loc:       loc,
		now:       time.Now,
		watermark: pageSize,
	}
}

// SetQuery replaces the predicates. A changed query starts again from the
// first page.
func (v *View) SetQuery(q Query) (Page, error) {
	if err := q.Validate(); err != nil {
		return Page{}, err
	}
	v.mu.Lock()
	if q != v.query {
		v.query = q
		v.watermark = v.pageSize
	}
	v.mu.Unlock()
	return v.Current(), nil
}

func (v *View) Query() Query {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.query
}

// LoadMore raises the watermark by one page, never past the filtered count.
func (v *View) LoadMore() Page {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := v.src.Transactions()
	filtered := Filter(snap.Value.Transactions, v.query, v.localNow())
	if v.watermark < len(filtered) {
		v.watermark = min(v.watermark+v.pageSize, len(filtered))
	}
	return v.page(snap, filtered)
}

func (v *View) Current() Page {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := v.src.Transactions()
	return v.page(snap, Filter(snap.Value.Transactions, v.query, v.localNow()))
}

// Filtered is every transaction matching the current query, ignoring the
// watermark. Exports use it.
func (v *View) Filtered() []wallet.Transaction {
	v.mu.Lock()
	q := v.query
	v.mu.Unlock()
	return Filter(v.src.Transactions().Value.Transactions, q, v.localNow())
}

// InRange is every cached transaction created on a day in [from, to].
func (v *View) InRange(from, to time.Time) ([]wallet.Transaction, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	q := Query{Duration: DurationCustom, From: from, To: to}
	return Filter(v.src.Transactions().Value.Transactions, q, v.localNow()), nil
}

func (v *View) Location() *time.Location { return v.loc }

func (v *View) localNow() time.Time {
	return v.now().In(v.loc)
}

func (v *View) page(snap store.Snapshot[wallet.TransactionPage], filtered []wallet.Transaction) Page {
	visible := v.watermark
	if visible > len(filtered) {
		visible = len(filtered)
	}
	return Page{
		Query:        v.query,
		Transactions: filtered[:visible],
		Visible:      visible,
		Filtered:     len(filtered),
		Total:        snap.Value.Total,
		HasMore:      visible < len(filtered),
		Loaded:       snap.Loaded,
		Stale:        snap.Stale,
		Error:        snap.ErrorMessage(),
	}
}
