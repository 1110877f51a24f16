package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zidewell/zidwell-team-sub000/pkg/apiclient"
	"github.com/zidewell/zidwell-team-sub000/pkg/config"
)

var (
	ErrInvalidAccountNumber = errors.New("account number must be 10 digits")
	ErrMissingBank          = errors.New("select a bank")
	ErrEmptyHandle          = errors.New("enter a recipient")
	ErrSelfTransfer         = errors.New("you cannot send money to yourself")
	ErrNotFound             = errors.New("no account matches these details")
)

const AccountNumberLength = 10

// Recipient is an internal wallet resolved from a handle.
type Recipient struct {
	Name     string `json:"name"`
	WalletID string `json:"walletId"`
}

// Client resolves bank accounts and wallet handles to display names. It holds
// no state between calls.
type Client struct {
	api *apiclient.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{api: apiclient.New(cfg.BackendBaseURL, cfg.InternalAPIKey, cfg.LookupTimeout)}
}

func ValidAccountNumber(s string) bool {
	if len(s) != AccountNumberLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeHandle trims whitespace, a leading "@" and case.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

func (c *Client) ResolveBankAccount(ctx context.Context, bankCode, accountNumber string) (string, error) {
	if bankCode == "" {
		return "", ErrMissingBank
	}
	if !ValidAccountNumber(accountNumber) {
		return "", ErrInvalidAccountNumber
	}

	var resp struct {
		AccountName string `json:"accountName"`
		Error       string `json:"error"`
	}
	payload := map[string]string{"bankCode": bankCode, "accountNumber": accountNumber}
	if err := c.api.JSON(ctx, http.MethodPost, "/api/lookup/account-name", payload, &resp); err != nil {
		return "", fmt.Errorf("account name lookup: %w", err)
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	if strings.TrimSpace(resp.AccountName) == "" {
		return "", ErrNotFound
	}
	return strings.TrimSpace(resp.AccountName), nil
}

func (c *Client) ResolveHandle(ctx context.Context, handle string) (Recipient, error) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return Recipient{}, ErrEmptyHandle
	}

	var resp struct {
		Recipient
		Error string `json:"error"`
	}
	if err := c.api.JSON(ctx, http.MethodPost, "/api/lookup/directory", map[string]string{"handle": handle}, &resp); err != nil {
		return Recipient{}, fmt.Errorf("directory lookup: %w", err)
	}
	if resp.Error != "" {
		return Recipient{}, errors.New(resp.Error)
	}
	if strings.TrimSpace(resp.Name) == "" {
		return Recipient{}, ErrNotFound
	}
	return resp.Recipient, nil
}
