package withdrawal

import (
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
)

type Mode string

const (
	ModeSelfAccount Mode = "self_account"
	ModeOtherBank   Mode = "other_bank"
	ModeP2P         Mode = "p2p"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeSelfAccount, ModeOtherBank, ModeP2P:
		return true
	}
	return false
}

// Destination is one of SelfAccount, OtherBank or P2P. Each carries only
// what its mode needs, and only a fully validated destination is ever built.
type Destination interface {
	Mode() Mode
	destination()
}

type SelfAccount struct {
	BankCode      string `json:"bankCode"`
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

type OtherBank struct {
	BankCode      string `json:"bankCode"`
	BankName      string `json:"bankName,omitempty"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

type P2P struct {
	Handle   string `json:"handle"`
	Name     string `json:"name"`
	WalletID string `json:"walletId"`
}

func (SelfAccount) Mode() Mode { return ModeSelfAccount }
func (OtherBank) Mode() Mode   { return ModeOtherBank }
func (P2P) Mode() Mode         { return ModeP2P }

func (SelfAccount) destination() {}
func (OtherBank) destination()   {}
func (P2P) destination()         {}

// Request is assembled at submit time from a valid form and never kept.
type Request struct {
	Mode        Mode         `json:"mode"`
	Amount      wallet.Money `json:"amount"`
	Narration   string       `json:"narration"`
	Destination Destination  `json:"destination"`
}

// draft holds the in-progress, mode-specific inputs.
type draft interface {
	mode() Mode
}

type selfAccountDraft struct{}

type otherBankDraft struct {
	bankCode      string
	accountNumber string
}

type p2pDraft struct {
	handle string
}

func (selfAccountDraft) mode() Mode { return ModeSelfAccount }
func (otherBankDraft) mode() Mode   { return ModeOtherBank }
func (p2pDraft) mode() Mode         { return ModeP2P }

func emptyDraft(m Mode) draft {
	switch m {
	case ModeOtherBank:
		return otherBankDraft{}
	case ModeP2P:
		return p2pDraft{}
	default:
		return selfAccountDraft{}
	}
}

type bankKey struct {
	BankCode      string
	AccountNumber string
}
