// Package gateway is the HTTP boundary to the Midtrans-compatible payment
// provider: Snap transaction creation, Core API status queries and
// notification verification.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/carehub/internal/platform/metrics"
)

var (
	// ErrInvalidSignature is returned when a notification's signature_key
	// does not match the server key.
	ErrInvalidSignature = errors.New("gateway: invalid notification signature")
	// ErrInvalidPayload is returned for notifications that cannot be decoded
	// or lack the fields needed for verification.
	ErrInvalidPayload = errors.New("gateway: invalid notification payload")
	// ErrUnavailable wraps transport failures, timeouts and 5xx responses.
	ErrUnavailable = errors.New("gateway: unavailable")
	// ErrTransactionNotFound is returned when the provider has no record of
	// the order id.
	ErrTransactionNotFound = errors.New("gateway: transaction not found")
)

// ItemDetail is one line of a Snap transaction.
type ItemDetail struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int32  `json:"quantity"`
}

// CustomerDetails identifies the payer to the provider.
type CustomerDetails struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone"`
}

// TransactionRequest is the input to CreateTransaction. RelatedEntityID and
// RelatedEntityKind travel as custom fields and come back on notifications.
type TransactionRequest struct {
	OrderID           string
	GrossAmount       int64
	Items             []ItemDetail
	Customer          CustomerDetails
	RelatedEntityID   string
	RelatedEntityKind string
}

// TransactionResponse is the Snap token and hosted payment page.
type TransactionResponse struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// StatusFields is the raw status vocabulary reported by the provider.
type StatusFields struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
	GrossAmount       string `json:"gross_amount"`
	SettlementTime    string `json:"settlement_time"`
	TransactionTime   string `json:"transaction_time"`
	CustomField1      string `json:"custom_field1"`
	CustomField2      string `json:"custom_field2"`
}

type snapRequest struct {
	TransactionDetails transactionDetails `json:"transaction_details"`
	ItemDetails        []ItemDetail       `json:"item_details"`
	CustomerDetails    CustomerDetails    `json:"customer_details"`
	CustomField1       string             `json:"custom_field1,omitempty"`
	CustomField2       string             `json:"custom_field2,omitempty"`
}

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type notificationPayload struct {
	StatusFields
	SignatureKey string `json:"signature_key"`
}

type errorResponse struct {
	StatusCode    string   `json:"status_code"`
	StatusMessage string   `json:"status_message"`
	ErrorMessages []string `json:"error_messages"`
}

// Config holds the provider endpoints and credentials.
type Config struct {
	// APIURL is the Core API base, e.g. https://api.sandbox.midtrans.com/v2.
	APIURL string
	// SnapURL is the Snap API base, e.g. https://app.sandbox.midtrans.com/snap/v1.
	SnapURL   string
	ServerKey string
	Timeout   time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithMetrics records call latency.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(cl *Client) { cl.metrics = m }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// Client talks to the payment provider. Calls are bounded by the HTTP client
// timeout and are never retried.
type Client struct {
	apiURL     string
	snapURL    string
	serverKey  string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		snapURL:    strings.TrimRight(cfg.SnapURL, "/"),
		serverKey:  cfg.ServerKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateTransaction requests a Snap token for req.
func (c *Client) CreateTransaction(ctx context.Context, req *TransactionRequest) (resp *TransactionResponse, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveGateway("create_transaction", start, err) }()

	body := snapRequest{
		TransactionDetails: transactionDetails{OrderID: req.OrderID, GrossAmount: req.GrossAmount},
		ItemDetails:        req.Items,
		CustomerDetails:    req.Customer,
		CustomField1:       req.RelatedEntityID,
		CustomField2:       req.RelatedEntityKind,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gateway: create transaction %s: encode: %w", req.OrderID, err)
	}

	var out TransactionResponse
	if err := c.do(ctx, http.MethodPost, c.snapURL+"/transactions", payload, &out); err != nil {
		return nil, fmt.Errorf("gateway: create transaction %s: %w", req.OrderID, err)
	}
	if out.Token == "" {
		return nil, fmt.Errorf("gateway: create transaction %s: empty token in response", req.OrderID)
	}

	c.logger.Debug().Str("order_id", req.OrderID).Int64("gross_amount", req.GrossAmount).Msg("gateway: transaction created")
	return &out, nil
}

// QueryStatus fetches the provider's current status for orderID.
func (c *Client) QueryStatus(ctx context.Context, orderID string) (st *StatusFields, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveGateway("query_status", start, err) }()

	var out StatusFields
	endpoint := c.apiURL + "/" + url.PathEscape(orderID) + "/status"
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("gateway: query status %s: %w", orderID, err)
	}
	// Core API reports a missing transaction in-band with HTTP 200.
	if out.StatusCode == "404" {
		return nil, fmt.Errorf("gateway: query status %s: %w", orderID, ErrTransactionNotFound)
	}
	return &out, nil
}

// VerifyNotification authenticates a raw notification body and returns the
// provider's current status for its order. The body is never trusted on its
// own: the signature must match and the status is re-queried.
func (c *Client) VerifyNotification(ctx context.Context, raw []byte) (*StatusFields, error) {
	var n notificationPayload
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, ErrInvalidPayload
	}
	if n.OrderID == "" || n.StatusCode == "" || n.GrossAmount == "" || n.SignatureKey == "" {
		return nil, ErrInvalidPayload
	}

	expected := Signature(n.OrderID, n.StatusCode, n.GrossAmount, c.serverKey)
	if !hmac.Equal([]byte(strings.ToLower(n.SignatureKey)), []byte(expected)) {
		return nil, ErrInvalidSignature
	}

	st, err := c.QueryStatus(ctx, n.OrderID)
	if err != nil {
		return nil, err
	}
	if st.OrderID == "" {
		st.OrderID = n.OrderID
	}
	if st.CustomField1 == "" {
		st.CustomField1 = n.CustomField1
	}
	if st.CustomField2 == "" {
		st.CustomField2 = n.CustomField2
	}
	return st, nil
}

// Signature computes the notification signature_key:
// hex(sha512(order_id + status_code + gross_amount + server_key)).
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.serverKey, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		msg := e.StatusMessage
		if len(e.ErrorMessages) > 0 {
			msg = strings.Join(e.ErrorMessages, "; ")
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, msg)
		}
		return fmt.Errorf("provider rejected request (status %d): %s", resp.StatusCode, msg)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
