// Package backend talks to the dashboard's server-side collaborators: the
// wallet API (balance, transactions, profile, notifications, withdrawals) and
// the document rendering service.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zidewell/zidwell-team-sub000/internal/user"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
	"github.com/zidewell/zidwell-team-sub000/pkg/apiclient"
	"github.com/zidewell/zidwell-team-sub000/pkg/config"
)

type Client struct {
	api      *apiclient.Client
	renderer *apiclient.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		api:      apiclient.New(cfg.BackendBaseURL, cfg.InternalAPIKey, cfg.FetchTimeout),
		renderer: apiclient.New(cfg.RendererBaseURL, cfg.InternalAPIKey, cfg.FetchTimeout),
	}
}

func (c *Client) FetchBalance(ctx context.Context, userID string) (wallet.Balance, error) {
	var bal wallet.Balance
	err := c.api.JSON(ctx, http.MethodPost, "/api/wallet/balance", map[string]string{"userId": userID}, &bal)
	if err != nil {
		return wallet.Balance{}, fmt.Errorf("balance query: %w", err)
	}
	return bal, nil
}

// TransactionQuery mirrors the server-side filters of the transactions
// endpoint. Client-side filtering happens in the ledger package.
type TransactionQuery struct {
	UserID   string
	Status   string
	Page     int
	PageSize int
}

func (c *Client) FetchTransactions(ctx context.Context, q TransactionQuery) (wallet.TransactionPage, error) {
	params := url.Values{}
	params.Set("userId", q.UserID)
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("pageSize", strconv.Itoa(q.PageSize))
	if q.Status != "" {
		params.Set("status", q.Status)
	}

	var page wallet.TransactionPage
	if err := c.api.JSON(ctx, http.MethodGet, "/api/wallet/transactions?"+params.Encode(), nil, &page); err != nil {
		return wallet.TransactionPage{}, fmt.Errorf("transactions query: %w", err)
	}
	return page, nil
}

func (c *Client) FetchProfile(ctx context.Context, userID string) (user.Profile, error) {
	var p user.Profile
	if err := c.api.JSON(ctx, http.MethodGet, "/api/profile?userId="+url.QueryEscape(userID), nil, &p); err != nil {
		return user.Profile{}, fmt.Errorf("profile query: %w", err)
	}
	return p, nil
}

func (c *Client) FetchNotifications(ctx context.Context, userID string, limit int) ([]wallet.Notification, error) {
	var ns []wallet.Notification
	payload := map[string]interface{}{"userId": userID, "limit": limit}
	if err := c.api.JSON(ctx, http.MethodPost, "/api/notifications", payload, &ns); err != nil {
		return nil, fmt.Errorf("notifications query: %w", err)
	}
	return ns, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	if err := c.api.JSON(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", struct{}{}, nil); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	if err := c.api.JSON(ctx, http.MethodPost, "/api/notifications/read-all", struct{}{}, nil); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

func (c *Client) ListBanks(ctx context.Context) ([]user.Bank, error) {
	var banks []user.Bank
	if err := c.api.JSON(ctx, http.MethodGet, "/api/banks", nil, &banks); err != nil {
		return nil, fmt.Errorf("list banks: %w", err)
	}
	return banks, nil
}

// WithdrawalPayload is the submit body; Destination depends on Mode.
type WithdrawalPayload struct {
	UserID      string       `json:"userId"`
	Mode        string       `json:"mode"`
	Amount      wallet.Money `json:"amount"`
	Narration   string       `json:"narration"`
	Destination interface{}  `json:"destination"`
	Reference   string       `json:"reference"`
}

type withdrawalResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SubmitWithdrawal returns an *apiclient.APIError carrying the server's
// reason when the withdrawal is declined, including a 2xx body with
// success=false.
func (c *Client) SubmitWithdrawal(ctx context.Context, p WithdrawalPayload) error {
	var resp withdrawalResponse
	err := c.api.JSON(ctx, http.MethodPost, "/api/wallet/withdraw", p, &resp,
		apiclient.Header{Key: "Idempotency-Key", Value: p.Reference})
	if err != nil {
		return err
	}
	if !resp.Success {
		return &apiclient.APIError{Status: http.StatusOK, Message: resp.Message}
	}
	return nil
}

// RenderRequest carries either an HTML document or a structured payload.
type RenderRequest struct {
	Kind     string      `json:"kind"`
	Filename string      `json:"filename"`
	HTML     string      `json:"html,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
}

func (c *Client) RenderDocument(ctx context.Context, req RenderRequest) ([]byte, error) {
	doc, err := c.renderer.Raw(ctx, http.MethodPost, "/api/render-document", req,
		apiclient.Header{Key: "Accept", Value: "application/pdf"})
	if err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	return doc, nil
}

// Ping is used by the health check.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := c.api.Raw(ctx, http.MethodGet, "/api/health", nil)
	return err
}
