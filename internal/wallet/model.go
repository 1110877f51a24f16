package wallet

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("enter a valid naira amount")

var maxKobo = decimal.NewFromInt(math.MaxInt64)

// Money is an amount in kobo.
type Money int64

// Naira renders m with two decimal places, e.g. 500000 -> "5000.00".
func (m Money) Naira() string {
	return decimal.New(int64(m), -2).StringFixed(2)
}

func (m Money) String() string {
	return "NGN " + decimal.New(int64(m), -2).StringFixed(2)
}

// ParseNaira reads user input such as "5000", "5,000.50" or "₦5000" into kobo.
// More than two decimal places, negative amounts and amounts too large to
// hold in kobo are rejected rather than rounded or wrapped.
func ParseNaira(s string) (Money, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "₦")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	kobo := d.Shift(2)
	if !kobo.IsInteger() || kobo.IsNegative() || kobo.GreaterThan(maxKobo) {
		return 0, ErrInvalidAmount
	}
	return Money(kobo.IntPart()), nil
}

// SessionIdentity scopes every cached value. It never changes for the
// lifetime of a session.
type SessionIdentity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

func (s SessionIdentity) IsZero() bool {
	return s.UserID == ""
}

type Balance struct {
	Current          Money `json:"current"`
	LifetimeInflow   Money `json:"lifetimeInflow"`
	LifetimeOutflow  Money `json:"lifetimeOutflow"`
	TransactionCount int   `json:"transactionCount"`
}

type TransactionType string

const (
	TransactionDeposit     TransactionType = "deposit"
	TransactionWithdrawal  TransactionType = "withdrawal"
	TransactionTransfer    TransactionType = "transfer"
	TransactionP2PTransfer TransactionType = "p2p_transfer"
	TransactionAirtime     TransactionType = "airtime"
	TransactionData        TransactionType = "data"
	TransactionElectricity TransactionType = "electricity"
	TransactionCable       TransactionType = "cable"
)

type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionSuccess    TransactionStatus = "success"
	TransactionFailed     TransactionStatus = "failed"
	TransactionProcessing TransactionStatus = "processing"
)

type Counterpart struct {
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber"`
	BankName      string `json:"bankName"`
}

// Transaction is immutable once created; status changes are only ever
// observed through a refetch.
type Transaction struct {
	ID          string            `json:"id"`
	Type        TransactionType   `json:"type"`
	Amount      Money             `json:"amount"`
	Fee         Money             `json:"fee"`
	Status      TransactionStatus `json:"status"`
	Reference   string            `json:"reference"`
	Description string            `json:"description"`
	CreatedAt   time.Time         `json:"createdAt"`
	Counterpart *Counterpart      `json:"counterpart,omitempty"`
}

type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// Notification.ReadAt is the only field a client may change.
type Notification struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      string     `json:"type"`
	Channels  []Channel  `json:"channels"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt"`
}

func (n Notification) IsRead() bool {
	return n.ReadAt != nil
}

// UnreadCount is derived on every call and never stored.
func UnreadCount(ns []Notification) int {
	count := 0
	for _, n := range ns {
		if n.ReadAt == nil {
			count++
		}
	}
	return count
}

// CloneNotifications copies ns deeply enough that callers can't alias ReadAt.
func CloneNotifications(ns []Notification) []Notification {
	if ns == nil {
		return nil
	}
	out := make([]Notification, len(ns))
	for i, n := range ns {
		if n.ReadAt != nil {
			at := *n.ReadAt
			n.ReadAt = &at
		}
		if n.Channels != nil {
			n.Channels = append([]Channel(nil), n.Channels...)
		}
		out[i] = n
	}
	return out
}
