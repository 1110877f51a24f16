package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zidewell/zidwell-team-sub000/internal/backend"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
)

type Format string

const (
	FormatDetailedCSV Format = "detailed-csv"
	FormatBasicCSV    Format = "basic-csv"
	FormatPDF         Format = "pdf"
	FormatPrint       Format = "print"
)

var (
	ErrUnknownFormat = errors.New("unknown export format")
	ErrEmptyDocument = errors.New("renderer returned an empty document")
)

// Renderer turns HTML or a structured payload into a PDF.
type Renderer interface {
	RenderDocument(ctx context.Context, req backend.RenderRequest) ([]byte, error)
}

type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

// StatementHolder is printed on the statement header.
type StatementHolder struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	AccountNumber string `json:"accountNumber,omitempty"`
}

// Exporter produces documents from a transaction snapshot. It keeps no
// state between calls.
type Exporter struct {
	renderer Renderer
	loc      *time.Location
	now      func() time.Time
}

func NewExporter(r Renderer, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{renderer: r, loc: loc, now: time.Now}
}

func (e *Exporter) Export(ctx context.Context, txs []wallet.Transaction, format Format) (Document, error) {
	stamp := e.now().In(e.loc).Format("20060102")

	switch format {
	case FormatDetailedCSV, FormatBasicCSV:
		body, err := e.csv(txs, format == FormatDetailedCSV)
		if err != nil {
			return Document{}, err
		}
		return Document{
			Filename:    fmt.Sprintf("transactions_%s.csv", stamp),
			ContentType: "text/csv; charset=utf-8",
			Body:        body,
		}, nil

	case FormatPrint:
		body, err := e.html(txs)
		if err != nil {
			return Document{}, err
		}
		return Document{
			Filename:    fmt.Sprintf("transactions_%s.html", stamp),
			ContentType: "text/html; charset=utf-8",
			Body:        body,
		}, nil

	case FormatPDF:
		page, err := e.html(txs)
		if err != nil {
			return Document{}, err
		}
		filename := fmt.Sprintf("transactions_%s.pdf", stamp)
		pdf, err := e.render(ctx, backend.RenderRequest{Kind: "transactions", Filename: filename, HTML: string(page)})
		if err != nil {
			return Document{}, err
		}
		return Document{Filename: filename, ContentType: "application/pdf", Body: pdf}, nil
	}
	return Document{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

type statementRow struct {
	Date        string `json:"date"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Credit      string `json:"credit"`
	Debit       string `json:"debit"`
	Fee         string `json:"fee"`
}

type statementPayload struct {
	Holder       StatementHolder `json:"holder"`
	From         string          `json:"from"`
	To           string          `json:"to"`
	GeneratedAt  time.Time       `json:"generatedAt"`
	TotalCredit  string          `json:"totalCredit"`
	TotalDebit   string          `json:"totalDebit"`
	Count        int             `json:"count"`
	Transactions []statementRow  `json:"transactions"`
}

// Statement renders txs, which must already be limited to [from, to], as a
// PDF statement. A reversed range fails before anything is sent.
func (e *Exporter) Statement(ctx context.Context, holder StatementHolder, txs []wallet.Transaction, from, to time.Time) (Document, error) {
	if err := checkRange(from, to); err != nil {
		return Document{}, err
	}

	fromStr, toStr := from.In(e.loc).Format(dateLayout), to.In(e.loc).Format(dateLayout)
	payload := statementPayload{
		Holder:       holder,
		From:         fromStr,
		To:           toStr,
		GeneratedAt:  e.now().In(e.loc),
		Count:        len(txs),
		Transactions: make([]statementRow, 0, len(txs)),
	}

	credit, debit := decimal.Zero, decimal.Zero
	for _, t := range txs {
		row := statementRow{
			Date:        t.CreatedAt.In(e.loc).Format("2006-01-02 15:04"),
			Reference:   t.Reference,
			Description: t.Description,
			Type:        string(t.Type),
			Status:      string(t.Status),
			Fee:         t.Fee.Naira(),
		}
		amount := decimal.New(int64(t.Amount), -2)
		if isInflow(t) {
			row.Credit = t.Amount.Naira()
			if t.Status == wallet.TransactionSuccess {
				credit = credit.Add(amount)
			}
		} else {
			row.Debit = t.Amount.Naira()
			if t.Status == wallet.TransactionSuccess {
				debit = debit.Add(amount).Add(decimal.New(int64(t.Fee), -2))
			}
		}
		payload.Transactions = append(payload.Transactions, row)
	}
	payload.TotalCredit = credit.StringFixed(2)
	payload.TotalDebit = debit.StringFixed(2)

	filename := fmt.Sprintf("statement_%s_%s.pdf", fromStr, toStr)
	pdf, err := e.render(ctx, backend.RenderRequest{Kind: "statement", Filename: filename, Payload: payload})
	if err != nil {
		return Document{}, err
	}
	return Document{Filename: filename, ContentType: "application/pdf", Body: pdf}, nil
}

// render never hands back a partial body: any failure yields nil bytes.
func (e *Exporter) render(ctx context.Context, req backend.RenderRequest) ([]byte, error) {
	pdf, err := e.renderer.RenderDocument(ctx, req)
	if err != nil {
		logger.Warn("Document rendering failed", logger.Merge(logger.Fields{"filename": req.Filename}, logger.WithError(err)))
		return nil, err
	}
	if len(pdf) == 0 {
		return nil, ErrEmptyDocument
	}
	return pdf, nil
}

var (
	detailedHeader = []string{"Date", "Reference", "Type", "Description", "Status", "Amount (NGN)", "Fee (NGN)", "Counterparty", "Account Number", "Bank"}
	basicHeader    = []string{"Date", "Description", "Type", "Amount (NGN)", "Status"}
)

func (e *Exporter) csv(txs []wallet.Transaction, detailed bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := basicHeader
	if detailed {
		header = detailedHeader
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, t := range txs {
		date := t.CreatedAt.In(e.loc).Format("2006-01-02 15:04:05")
		record := []string{date, t.Description, string(t.Type), t.Amount.Naira(), string(t.Status)}
		if detailed {
			var cp wallet.Counterpart
			if t.Counterpart != nil {
				cp = *t.Counterpart
			}
			record = []string{
				date, t.Reference, string(t.Type), t.Description, string(t.Status),
				t.Amount.Naira(), t.Fee.Naira(), cp.Name, cp.AccountNumber, cp.BankName,
			}
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", t.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

var transactionsPage = template.Must(template.New("transactions").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Transactions</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 12px; }
table { width: 100%; border-collapse: collapse; }
th, td { border-bottom: 1px solid #ddd; padding: 6px; text-align: left; }
td.amount { text-align: right; }
</style>
</head>
<body>
<h2>Transaction history</h2>
<p>Generated {{.GeneratedAt}} &middot; {{len .Rows}} transactions</p>
<table>
<thead><tr><th>Date</th><th>Reference</th><th>Description</th><th>Type</th><th>Status</th><th>Amount (NGN)</th><th>Fee (NGN)</th></tr></thead>
<tbody>
{{range .Rows}}<tr><td>{{.Date}}</td><td>{{.Reference}}</td><td>{{.Description}}</td><td>{{.Type}}</td><td>{{.Status}}</td><td class="amount">{{.Amount}}</td><td class="amount">{{.Fee}}</td></tr>
{{end}}</tbody>
</table>
</body>
</html>
`))

type htmlRow struct {
	Date, Reference, Description, Type, Status, Amount, Fee string
}

func (e *Exporter) html(txs []wallet.Transaction) ([]byte, error) {
	rows := make([]htmlRow, 0, len(txs))
	for _, t := range txs {
		rows = append(rows, htmlRow{
			Date:        t.CreatedAt.In(e.loc).Format("02 Jan 2006 15:04"),
			Reference:   t.Reference,
			Description: t.Description,
			Type:        string(t.Type),
			Status:      string(t.Status),
			Amount:      t.Amount.Naira(),
			Fee:         t.Fee.Naira(),
		})
	}

	var buf bytes.Buffer
	data := struct {
		GeneratedAt string
		Rows        []htmlRow
	}{e.now().In(e.loc).Format("02 Jan 2006 15:04"), rows}
	if err := transactionsPage.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render transactions html: %w", err)
	}
	return buf.Bytes(), nil
}

func isInflow(t wallet.Transaction) bool {
	return t.Type == wallet.TransactionDeposit
}
