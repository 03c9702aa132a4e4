/**
 * @description
 * This package provides a client for the Plaid API surface the sync engine
 * depends on: cursor-based incremental transaction sync and account balance
 * reads. It encapsulates authenticated request construction, response
 * parsing, and translation of wire payloads into domain types.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - internal/domain: the change-set and balance types the engine consumes.
 */
package plaidclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/transfa/ledger-sync-service/internal/domain"
)

const plaidDateLayout = "2006-01-02"

// Client is a client for the Plaid API.
type Client struct {
	BaseURL    string
	ClientID   string
	Secret     string
	HTTPClient *http.Client
}

// NewClient creates a new Plaid API client with a bounded request timeout so
// a stalled aggregator call fails the sync pass instead of hanging it.
func NewClient(baseURL, clientID, secret string) *Client {
	return &Client{
		BaseURL:  baseURL,
		ClientID: clientID,
		Secret:   secret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ErrorResponse represents an error returned by the Plaid API.
type ErrorResponse struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	RequestID    string `json:"request_id"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("plaid api error: %s - %s", e.ErrorCode, e.ErrorMessage)
}

type syncRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
	Cursor      string `json:"cursor,omitempty"`
	Count       int    `json:"count,omitempty"`
}

type wireTransaction struct {
	TransactionID string   `json:"transaction_id"`
	AccountID     string   `json:"account_id"`
	Amount        float64  `json:"amount"`
	Date          string   `json:"date"`
	Name          string   `json:"name"`
	MerchantName  *string  `json:"merchant_name"`
	Category      []string `json:"category"`
	Pending       bool     `json:"pending"`
}

type syncResponse struct {
	Added    []wireTransaction `json:"added"`
	Modified []wireTransaction `json:"modified"`
	Removed  []struct {
		TransactionID string `json:"transaction_id"`
	} `json:"removed"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

type balanceRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

type balanceResponse struct {
	Accounts []struct {
		AccountID string `json:"account_id"`
		Balances  struct {
			Current   *float64 `json:"current"`
			Available *float64 `json:"available"`
		} `json:"balances"`
	} `json:"accounts"`
}

// SyncTransactions fetches one page of incremental changes for an item,
// starting from the given cursor (empty for a first-ever sync).
func (c *Client) SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*domain.ChangeSet, error) {
	reqPayload := syncRequest{
		ClientID:    c.ClientID,
		Secret:      c.Secret,
		AccessToken: accessToken,
		Cursor:      cursor,
		Count:       count,
	}

	var resp syncResponse
	if err := c.post(ctx, "/transactions/sync", reqPayload, &resp); err != nil {
		return nil, err
	}

	changes := &domain.ChangeSet{
		NextCursor: resp.NextCursor,
		HasMore:    resp.HasMore,
	}
	for _, tx := range resp.Added {
		converted, err := convertTransaction(tx)
		if err != nil {
			return nil, err
		}
		changes.Added = append(changes.Added, converted)
	}
	for _, tx := range resp.Modified {
		converted, err := convertTransaction(tx)
		if err != nil {
			return nil, err
		}
		changes.Modified = append(changes.Modified, converted)
	}
	for _, removed := range resp.Removed {
		changes.RemovedIDs = append(changes.RemovedIDs, removed.TransactionID)
	}

	return changes, nil
}

// GetBalances fetches current balances for every account under an item.
func (c *Client) GetBalances(ctx context.Context, accessToken string) ([]domain.SyncedBalance, error) {
	reqPayload := balanceRequest{
		ClientID:    c.ClientID,
		Secret:      c.Secret,
		AccessToken: accessToken,
	}

	var resp balanceResponse
	if err := c.post(ctx, "/accounts/balance/get", reqPayload, &resp); err != nil {
		return nil, err
	}

	balances := make([]domain.SyncedBalance, 0, len(resp.Accounts))
	for _, account := range resp.Accounts {
		balance := domain.SyncedBalance{PlaidAccountID: account.AccountID}
		if account.Balances.Current != nil {
			balance.Current = *account.Balances.Current
		}
		if account.Balances.Available != nil {
			balance.Available = *account.Balances.Available
		}
		balances = append(balances, balance)
	}

	return balances, nil
}

func convertTransaction(tx wireTransaction) (domain.SyncedTransaction, error) {
	date, err := time.Parse(plaidDateLayout, tx.Date)
	if err != nil {
		return domain.SyncedTransaction{}, fmt.Errorf("failed to parse transaction date %q: %w", tx.Date, err)
	}

	merchant := tx.Name
	if tx.MerchantName != nil && *tx.MerchantName != "" {
		merchant = *tx.MerchantName
	}

	return domain.SyncedTransaction{
		PlaidTransactionID: tx.TransactionID,
		PlaidAccountID:     tx.AccountID,
		Amount:             tx.Amount,
		Date:               date,
		MerchantName:       merchant,
		Categories:         tx.Category,
		Pending:            tx.Pending,
	}, nil
}

// post is a generic helper that executes an authenticated Plaid request.
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request for %s: %w", path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response for %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=plaid_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=plaid_client op=%s status=%d error_code=%q detail=%q", path, resp.StatusCode, errResp.ErrorCode, errResp.ErrorMessage)
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode success response for %s: %w", path, err)
	}

	return nil
}
