package fuelapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/V4T54L/fuel-importer/internal/adapter/redact"
)

const (
	// DateLayout is the upstream start/end date format, always in UTC.
	DateLayout = "2006-01-02T15:04:05.000Z"
	// DefaultInvoiceType is sent when no invoice type is configured.
	DefaultInvoiceType = "STANDART_10GUN"

	returnDataField  = "jsoN_ReturnData"
	maxErrorBodySize = 1024
	maxResponseSize  = 64 << 20
)

// ErrUnexpectedStatus is returned for non-2xx upstream responses.
var ErrUnexpectedStatus = errors.New("unexpected upstream status")

// Config holds the upstream endpoint and credentials.
type Config struct {
	URL           string
	Username      string
	Password      string
	FleetList     string
	InvoiceType   string
	Timeout       time.Duration
	RatePerMinute int
}

type requestInfo struct {
	UserID        int    `json:"userId"`
	ClientRoleID  int    `json:"clientRoleId"`
	UserName      string `json:"userName"`
	UserPassword  string `json:"userPassword"`
	TransactionID string `json:"transactionId"`
}

type transactionRequest struct {
	AutomaticRequestInfo requestInfo `json:"automaticRequestInfo"`
	StartDate            string      `json:"startDate"`
	EndDate              string      `json:"endDate"`
	InvoicePeriod        string      `json:"invoicePeriod"`
	FleetList            string      `json:"fleetList"`
	ViuID                string      `json:"viuId"`
	InvoiceType          string      `json:"invoicE_TYPE"`
}

// Client implements domain.TransactionSource against the fuel provider's reporting API.
type Client struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
	redactor   *redact.Redactor
	logger     *slog.Logger
}

// NewClient creates a Client. A non-positive RatePerMinute disables outbound rate limiting.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.InvoiceType == "" {
		cfg.InvoiceType = DefaultInvoiceType
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		redactor:   redact.NewRedactor("userName", "userPassword"),
		logger:     logger.With("component", "fuel_api_client"),
	}
}

// FetchTransactions posts a report request for [from, to] and returns the inner
// transaction array text. A response without data yields a nil slice.
func (c *Client) FetchTransactions(ctx context.Context, from, to time.Time) ([]byte, error) {
	body, err := json.Marshal(transactionRequest{
		AutomaticRequestInfo: requestInfo{
			UserName:      c.cfg.Username,
			UserPassword:  c.cfg.Password,
			TransactionID: uuid.NewString(),
		},
		StartDate:   from.UTC().Format(DateLayout),
		EndDate:     to.UTC().Format(DateLayout),
		FleetList:   c.cfg.FleetList,
		InvoiceType: c.cfg.InvoiceType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("requesting transactions", "url", c.cfg.URL, "body", c.redactor.String(body))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.logger.Error("upstream returned an error", "status", resp.StatusCode, "body", string(snippet))
		return nil, fmt.Errorf("%w: %d %s: %s", ErrUnexpectedStatus, resp.StatusCode, http.StatusText(resp.StatusCode), snippet)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("upstream responded", "status", resp.StatusCode, "bytes", len(raw), "duration_ms", time.Since(start).Milliseconds())

	return c.unwrapReturnData(raw)
}

// unwrapReturnData extracts the array text carried in the jsoN_ReturnData string field.
func (c *Client) unwrapReturnData(raw []byte) ([]byte, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response envelope: %w", err)
	}

	field, ok := envelope[returnDataField]
	if !ok {
		c.logger.Warn("response has no return data field", "field", returnDataField)
		return nil, nil
	}
	field = bytes.TrimSpace(field)
	if len(field) == 0 || bytes.Equal(field, []byte("null")) {
		return nil, nil
	}
	// Some deployments send the array itself instead of its string encoding.
	if field[0] == '[' {
		return field, nil
	}

	var text string
	if err := json.Unmarshal(field, &text); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", returnDataField, err)
	}
	return []byte(text), nil
}
