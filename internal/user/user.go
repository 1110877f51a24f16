package user

// BankDetails is the payout account the user saved on their profile.
type BankDetails struct {
	BankCode      string `json:"bankCode"`
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

func (b *BankDetails) Complete() bool {
	return b != nil && b.BankCode != "" && b.AccountNumber != "" && b.AccountName != ""
}

type Profile struct {
	UserID       string       `json:"userId"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	WalletHandle string       `json:"walletHandle"`
	WalletID     string       `json:"walletId"`
	BankDetails  *BankDetails `json:"bankDetails,omitempty"`
}

type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}
