// Package billing is the client of the payment status oracle.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxTimeout bounds a single oracle lookup.
const MaxTimeout = 2 * time.Second

// PaymentStatus is the oracle's verdict for one user.
type PaymentStatus string

const (
	PayingCustomer      PaymentStatus = "PAYING_CUSTOMER"
	PaymentMethodOnFile PaymentStatus = "PAYMENT_METHOD_ON_FILE"
	None                PaymentStatus = "NONE"
)

// ErrUnavailable is returned when the oracle could not be reached or answered with an unusable response.
var ErrUnavailable = errors.New("billing: oracle unavailable")

// Plan is the subscription a user is billed under.
type Plan struct {
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// Account is the billing view of one user.
type Account struct {
	UserID             string        `json:"user_id"`
	Status             PaymentStatus `json:"status"`
	Plan               Plan          `json:"plan"`
	Country            string        `json:"country"`
	PaymentFailures90d int           `json:"payment_failures_90d"`
}

// Oracle answers payment status lookups.
type Oracle interface {
	Status(ctx context.Context, userID string) (*Account, error)
}

// Client queries the billing service over HTTP.
type Client struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for the billing service at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: MaxTimeout},
	}
}

// Status returns the billing account of userID. Unknown users are reported with status NONE.
func (c *Client) Status(ctx context.Context, userID string) (*Account, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL not configured", ErrUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, MaxTimeout)
	defer cancel()
	endpoint := c.BaseURL + "/v1/customers/" + url.PathEscape(userID) + "/payment-status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return &Account{UserID: userID, Status: None}, nil
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, resp.StatusCode, string(b))
	}
	var acct Account
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	switch acct.Status {
	case PayingCustomer, PaymentMethodOnFile, None:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrUnavailable, acct.Status)
	}
	acct.UserID = userID
	return &acct, nil
}
