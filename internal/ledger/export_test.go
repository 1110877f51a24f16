package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zidewell/zidwell-team-sub000/internal/backend"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
	"github.com/zidewell/zidwell-team-sub000/pkg/config"
)

type rendererStub struct {
	calls []backend.RenderRequest
	body  []byte
	err   error
}

func (r *rendererStub) RenderDocument(ctx context.Context, req backend.RenderRequest) ([]byte, error) {
	r.calls = append(r.calls, req)
	return r.body, r.err
}

func newTestExporter(r Renderer) *Exporter {
	e := NewExporter(r, lagos)
	e.now = func() time.Time { return now }
	return e
}

func awkward() []wallet.Transaction {
	return []wallet.Transaction{
		{
			ID: "a1", Type: wallet.TransactionTransfer, Amount: 1234567, Fee: 2500, Status: wallet.TransactionSuccess,
			Reference: "REF,with,commas", Description: `Paid "Mama Put", Yaba`, CreatedAt: at(2025, time.March, 10, 9),
			Counterpart: &wallet.Counterpart{Name: "Obi, Chinedu", AccountNumber: "0123456789", BankName: `GTBank "Plc"`},
		},
		{
			ID: "a2", Type: wallet.TransactionDeposit, Amount: 5000, Status: wallet.TransactionPending,
			Reference: "REF-2", Description: "line one\nline two", CreatedAt: at(2025, time.March, 11, 17),
		},
	}
}

func readCSV(t *testing.T, body []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestExport_DetailedCSVRoundTrip(t *testing.T) {
	txs := awkward()
	doc, err := newTestExporter(&rendererStub{}).Export(context.Background(), txs, FormatDetailedCSV)
	require.NoError(t, err)

	assert.Equal(t, "transactions_20250312.csv", doc.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", doc.ContentType)

	records := readCSV(t, doc.Body)
	require.Len(t, records, 3)
	assert.Equal(t, detailedHeader, records[0])

	first := records[1]
	assert.Equal(t, "2025-03-10 09:00:00", first[0])
	assert.Equal(t, "REF,with,commas", first[1])
	assert.Equal(t, `Paid "Mama Put", Yaba`, first[3])
	assert.Equal(t, "12345.67", first[5])
	assert.Equal(t, "25.00", first[6])
	assert.Equal(t, "Obi, Chinedu", first[7])
	assert.Equal(t, "0123456789", first[8])
	assert.Equal(t, `GTBank "Plc"`, first[9])

	second := records[2]
	assert.Equal(t, "line one\nline two", second[3])
	assert.Equal(t, []string{"", "", ""}, second[7:])
}

func TestExport_BasicCSV(t *testing.T) {
	doc, err := newTestExporter(&rendererStub{}).Export(context.Background(), awkward(), FormatBasicCSV)
	require.NoError(t, err)

	records := readCSV(t, doc.Body)
	require.Len(t, records, 3)
	assert.Equal(t, basicHeader, records[0])
	assert.Equal(t, []string{"2025-03-11 17:00:00", "line one\nline two", "deposit", "50.00", "pending"}, records[2])
}

func TestExport_PDFDelegatesToRenderer(t *testing.T) {
	r := &rendererStub{body: []byte("%PDF-1.7")}
	doc, err := newTestExporter(r).Export(context.Background(), awkward(), FormatPDF)
	require.NoError(t, err)

	assert.Equal(t, "transactions_20250312.pdf", doc.Filename)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, []byte("%PDF-1.7"), doc.Body)

	require.Len(t, r.calls, 1)
	assert.Equal(t, "transactions", r.calls[0].Kind)
	assert.Contains(t, r.calls[0].HTML, "Paid &#34;Mama Put&#34;, Yaba")
}

func TestExport_PrintIsEscapedHTML(t *testing.T) {
	txs := []wallet.Transaction{{ID: "x", Description: "<script>alert(1)</script>", CreatedAt: now}}
	r := &rendererStub{}
	doc, err := newTestExporter(r).Export(context.Background(), txs, FormatPrint)
	require.NoError(t, err)

	assert.Equal(t, "text/html; charset=utf-8", doc.ContentType)
	assert.NotContains(t, string(doc.Body), "<script>")
	assert.Contains(t, string(doc.Body), "&lt;script&gt;")
	assert.Empty(t, r.calls)
}

func TestExport_UnknownFormat(t *testing.T) {
	_, err := newTestExporter(&rendererStub{}).Export(context.Background(), nil, "xlsx")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestExport_RendererFailureYieldsNoBytes(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "%PDF-1.7 truncated")
	}))
	defer srv.Close()

	client := backend.NewClient(config.Config{BackendBaseURL: srv.URL, RendererBaseURL: srv.URL, FetchTimeout: time.Second})
	doc, err := newTestExporter(client).Export(context.Background(), awkward(), FormatPDF)

	require.Error(t, err)
	assert.Equal(t, 1, hits)
	assert.Nil(t, doc.Body)
	assert.Empty(t, doc.Filename)
}

func TestExport_EmptyRenderIsAnError(t *testing.T) {
	_, err := newTestExporter(&rendererStub{body: nil}).Export(context.Background(), awkward(), FormatPDF)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestStatement(t *testing.T) {
	r := &rendererStub{body: []byte("%PDF")}
	e := newTestExporter(r)
	holder := StatementHolder{Name: "Ada Obi", Email: "ada@example.com"}

	txs := []wallet.Transaction{
		{ID: "s1", Type: wallet.TransactionDeposit, Amount: 1000000, Status: wallet.TransactionSuccess, CreatedAt: at(2025, time.March, 1, 9)},
		{ID: "s2", Type: wallet.TransactionWithdrawal, Amount: 500000, Fee: 5000, Status: wallet.TransactionSuccess, CreatedAt: at(2025, time.March, 2, 9)},
		{ID: "s3", Type: wallet.TransactionWithdrawal, Amount: 200000, Status: wallet.TransactionFailed, CreatedAt: at(2025, time.March, 3, 9)},
	}

	doc, err := e.Statement(context.Background(), holder, txs, at(2025, time.March, 1, 0), at(2025, time.March, 31, 0))
	require.NoError(t, err)
	assert.Equal(t, "statement_2025-03-01_2025-03-31.pdf", doc.Filename)

	require.Len(t, r.calls, 1)
	assert.Equal(t, "statement", r.calls[0].Kind)
	assert.Empty(t, r.calls[0].HTML)

	raw, err := json.Marshal(r.calls[0].Payload)
	require.NoError(t, err)
	var payload statementPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "Ada Obi", payload.Holder.Name)
	assert.Equal(t, "10000.00", payload.TotalCredit)
	assert.Equal(t, "5050.00", payload.TotalDebit)
	assert.Equal(t, 3, payload.Count)
	assert.Equal(t, "10000.00", payload.Transactions[0].Credit)
	assert.Equal(t, "2000.00", payload.Transactions[2].Debit)
}

func TestStatement_RejectsBadRangeBeforeRendering(t *testing.T) {
	r := &rendererStub{body: []byte("%PDF")}
	e := newTestExporter(r)

	_, err := e.Statement(context.Background(), StatementHolder{}, nil, at(2025, time.April, 1, 0), at(2025, time.March, 1, 0))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = e.Statement(context.Background(), StatementHolder{}, nil, time.Time{}, at(2025, time.March, 1, 0))
	assert.ErrorIs(t, err, ErrMissingRange)

	assert.Empty(t, r.calls)
}
