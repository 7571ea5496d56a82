// Package client is a typed HTTP client for the soltax API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/soltax/service/export"
	natspkg "github.com/brojonat/soltax/service/nats"
	"github.com/brojonat/soltax/service/payment"
	"github.com/brojonat/soltax/service/report"
	"github.com/brojonat/soltax/service/summary"
	"github.com/shopspring/decimal"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("request failed (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// IsPaymentRequired reports whether err is a 402 from the export endpoint.
func IsPaymentRequired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusPaymentRequired
}

// Invoice is the Solana Pay invoice returned with a new payment request.
type Invoice struct {
	PaymentURL string `json:"paymentUrl"`
	Memo       string `json:"memo"`
	QRCodeData string `json:"qrCodeData"`
}

// PaymentCreated is the response to CreateExportPayment.
type PaymentCreated struct {
	PaymentRequest payment.PublicView `json:"paymentRequest"`
	Invoice        *Invoice           `json:"invoice,omitempty"`
	WorkflowID     string             `json:"workflowId,omitempty"`
}

// SummaryResponse is a range summary.
type SummaryResponse struct {
	Address   string            `json:"address"`
	DateRange payment.DateRange `json:"dateRange"`
	Summary   summary.Summary   `json:"summary"`
}

// File is a downloaded export.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Client is the HTTP client for the soltax service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new soltax client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetTransactions fetches classified history and its summary. Dates are
// YYYY-MM-DD or RFC3339.
func (c *Client) GetTransactions(ctx context.Context, address, startDate, endDate string) (*report.Transactions, error) {
	var out report.Transactions
	err := c.getJSON(ctx, "/api/transactions/"+url.PathEscape(address), rangeQuery(startDate, endDate), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSummary fetches the summary of a range.
func (c *Client) GetSummary(ctx context.Context, address, startDate, endDate string) (*SummaryResponse, error) {
	var out SummaryResponse
	err := c.getJSON(ctx, "/api/transactions/"+url.PathEscape(address)+"/summary", rangeQuery(startDate, endDate), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetComprehensive fetches balance, summary and history together.
func (c *Client) GetComprehensive(ctx context.Context, address, startDate, endDate string) (*report.Comprehensive, error) {
	var out report.Comprehensive
	err := c.getJSON(ctx, "/api/transactions/"+url.PathEscape(address)+"/comprehensive", rangeQuery(startDate, endDate), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBalance returns a wallet's SOL balance.
func (c *Client) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var out struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := c.getJSON(ctx, "/api/wallets/"+url.PathEscape(address)+"/balance", nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Balance, nil
}

// ValidateWallet asks the server whether address is a valid wallet.
func (c *Client) ValidateWallet(ctx context.Context, address string) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/wallets/validate", nil, map[string]string{"address": address}, http.StatusOK, &out)
	return out.Valid, err
}

// Preview fetches the free export preview for a range.
func (c *Client) Preview(ctx context.Context, address, startDate, endDate string) (*export.Preview, error) {
	var out export.Preview
	err := c.getJSON(ctx, "/api/exports/preview/"+url.PathEscape(address), rangeQuery(startDate, endDate), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateExportPayment opens a payment request for an export.
func (c *Client) CreateExportPayment(ctx context.Context, exportType, wallet, startDate, endDate string) (*PaymentCreated, error) {
	body := map[string]any{
		"exportType":    exportType,
		"walletAddress": wallet,
		"dateRange": map[string]string{
			"startDate": startDate,
			"endDate":   endDate,
		},
	}
	var out PaymentCreated
	if err := c.doJSON(ctx, http.MethodPost, "/api/payments/export", nil, body, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("payment request created", "id", out.PaymentRequest.ID, "export_type", exportType)
	return &out, nil
}

// PaymentStatus checks a payment request against the chain.
func (c *Client) PaymentStatus(ctx context.Context, id string) (*payment.PublicView, error) {
	var out struct {
		PaymentRequest payment.PublicView `json:"paymentRequest"`
	}
	if err := c.getJSON(ctx, "/api/payments/"+url.PathEscape(id)+"/status", nil, &out); err != nil {
		return nil, err
	}
	return &out.PaymentRequest, nil
}

// GetPayment returns the stored request without a chain check.
func (c *Client) GetPayment(ctx context.Context, id string) (*payment.Request, error) {
	var out struct {
		PaymentRequest payment.Request `json:"paymentRequest"`
	}
	if err := c.getJSON(ctx, "/api/payments/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.PaymentRequest, nil
}

// AwaitPayment polls the status endpoint every interval until the request
// is paid or expired. onPoll, when set, sees every intermediate status.
func (c *Client) AwaitPayment(ctx context.Context, id string, interval time.Duration, onPoll func(*payment.PublicView)) (*payment.PublicView, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.PaymentStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(status)
		}
		if status.Status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// StreamPaymentEvents reads the server's event stream for a payment request
// and calls handle for every payment event. It returns the terminal event,
// or an error if the stream ends first.
func (c *Client) StreamPaymentEvents(ctx context.Context, id string, handle func(*natspkg.PaymentEvent) error) (*natspkg.PaymentEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/payments/"+url.PathEscape(id)+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No timeout for streaming.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if event != "" && data != "" {
				e, err := decodeStreamEvent(event, data)
				if err != nil {
					return nil, err
				}
				if e != nil {
					if handle != nil {
						if err := handle(e); err != nil {
							return e, err
						}
					}
					if e.Terminal() {
						return e, nil
					}
				}
			}
			event, data = "", ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("error reading event stream: %w", err)
	}
	return nil, errors.New("event stream ended before the payment settled")
}

func decodeStreamEvent(event, data string) (*natspkg.PaymentEvent, error) {
	switch event {
	case "connected":
		return nil, nil
	case "error":
		var errInfo struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal([]byte(data), &errInfo)
		return nil, fmt.Errorf("server error: %s", errInfo.Error)
	default:
		var e natspkg.PaymentEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", event, err)
		}
		return &e, nil
	}
}

// Export downloads a paid export. format is csv or pdf.
func (c *Client) Export(ctx context.Context, format, paymentID, address, startDate, endDate string) (*File, error) {
	body := map[string]string{
		"paymentId": paymentID,
		"address":   address,
		"startDate": startDate,
		"endDate":   endDate,
	}
	resp, err := c.send(ctx, http.MethodPost, "/api/exports/"+url.PathEscape(format), nil, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}

	f := &File{ContentType: resp.Header.Get("Content-Type"), Data: data}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		f.Filename = params["filename"]
	}
	if f.Filename == "" {
		f.Filename = "export." + strings.ToLower(format)
	}
	return f, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/health", nil, nil)
}

func rangeQuery(startDate, endDate string) url.Values {
	q := url.Values{}
	q.Set("startDate", startDate)
	q.Set("endDate", endDate)
	return q
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, http.StatusOK, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body any, want int, out any) error {
	resp, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: resp.StatusCode, Code: errResp.Code, Message: errResp.Error}
}
