package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brojonat/soltax/service/payment"
	"github.com/brojonat/soltax/service/report"
	"github.com/brojonat/soltax/service/summary"
	"github.com/brojonat/soltax/service/temporal"
	"github.com/shopspring/decimal"
)

const maxRequestBodySize = 1 << 20 // 1MB

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type summaryResponse struct {
	Address   string            `json:"address"`
	DateRange payment.DateRange `json:"dateRange"`
	Summary   *summary.Summary  `json:"summary"`
}

type balanceResponse struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

type validateWalletRequest struct {
	Address string `json:"address"`
}

type validateWalletResponse struct {
	Address string `json:"address"`
	Valid   bool   `json:"valid"`
}

type createPaymentRequest struct {
	ExportType    string `json:"exportType"`
	WalletAddress string `json:"walletAddress"`
	DateRange     struct {
		Start string `json:"startDate"`
		End   string `json:"endDate"`
	} `json:"dateRange"`
}

type createPaymentResponse struct {
	PaymentRequest payment.PublicView `json:"paymentRequest"`
	Invoice        *Invoice           `json:"invoice,omitempty"`
	WorkflowID     string             `json:"workflowId,omitempty"`
}

type paymentStatusResponse struct {
	PaymentRequest payment.PublicView `json:"paymentRequest"`
}

type paymentDetailResponse struct {
	PaymentRequest *payment.Request `json:"paymentRequest"`
}

type exportRequest struct {
	PaymentID string `json:"paymentId"`
	Address   string `json:"address"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// handleGetTransactions returns classified history plus its summary.
// GET /api/transactions/{address}?startDate=...&endDate=...
func handleGetTransactions(svc *report.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, dr, err := addressAndRange(r)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}

		res, err := svc.GetTransactions(r.Context(), address, dr)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, res, http.StatusOK)
	})
}

// handleGetSummary returns only the summary of a range.
// GET /api/transactions/{address}/summary?startDate=...&endDate=...
func handleGetSummary(svc *report.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, dr, err := addressAndRange(r)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}

		s, err := svc.GetSummary(r.Context(), address, dr)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, summaryResponse{Address: address, DateRange: dr, Summary: s}, http.StatusOK)
	})
}

// handleGetComprehensive returns balance, summary and history.
// GET /api/transactions/{address}/comprehensive?startDate=...&endDate=...
func handleGetComprehensive(svc *report.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, dr, err := addressAndRange(r)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}

		res, err := svc.GetComprehensive(r.Context(), address, dr)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, res, http.StatusOK)
	})
}

// handleGetBalance returns the wallet's SOL balance.
// GET /api/wallets/{address}/balance
func handleGetBalance(svc *report.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")

		balance, err := svc.GetBalance(r.Context(), address)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, balanceResponse{Address: address, Balance: balance}, http.StatusOK)
	})
}

// handleValidateWallet reports whether an address is a valid wallet.
// POST /api/wallets/validate
func handleValidateWallet(svc *report.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req validateWalletRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}
		writeJSON(w, validateWalletResponse{
			Address: req.Address,
			Valid:   svc.ValidateWallet(req.Address),
		}, http.StatusOK)
	})
}

// handleCreateExportPayment opens a payment request and returns it with a
// Solana Pay invoice. When an awaiter is configured the request is also
// tracked server-side until it settles.
// POST /api/payments/export
func handleCreateExportPayment(svc *report.Service, awaiter PaymentAwaiter, pollInterval time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body createPaymentRequest
		if !decodeBody(w, r, &body, logger) {
			return
		}

		dr, err := report.ParseDateRange(body.DateRange.Start, body.DateRange.End)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}

		req, err := svc.CreateExportPayment(r.Context(), body.ExportType, body.WalletAddress, dr)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}

		resp := createPaymentResponse{PaymentRequest: req.Public()}

		invoice, err := NewInvoice(req)
		if err != nil {
			// QR code is optional
			logger.WarnContext(r.Context(), "failed to build payment invoice",
				"id", req.ID,
				"error", err,
			)
		} else {
			resp.Invoice = invoice
		}

		if awaiter != nil {
			workflowCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 10*time.Second)
			runID, err := awaiter.StartAwaitPayment(workflowCtx, req.ID, pollInterval)
			cancel()
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start payment await workflow",
					"id", req.ID,
					"error", err,
				)
			} else {
				resp.WorkflowID = temporal.AwaitWorkflowID(req.ID)
				logger.DebugContext(r.Context(), "payment await workflow started",
					"id", req.ID,
					"run_id", runID,
				)
			}
		}

		writeJSON(w, resp, http.StatusCreated)
	})
}

// handleGetPaymentStatus checks a request against the chain.
// GET /api/payments/{id}/status
func handleGetPaymentStatus(svc *report.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := svc.GetPaymentStatus(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, paymentStatusResponse{PaymentRequest: req.Public()}, http.StatusOK)
	})
}

// handleGetPayment returns the stored request without checking the chain.
// GET /api/payments/{id}
func handleGetPayment(svc *report.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := svc.GetPayment(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, paymentDetailResponse{PaymentRequest: req}, http.StatusOK)
	})
}

// handleExportPreview shows the first transactions and estimated file sizes.
// GET /api/exports/preview/{address}?startDate=...&endDate=...
func handleExportPreview(svc *report.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, dr, err := addressAndRange(r)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}

		p, err := svc.Preview(r.Context(), address, dr)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, p, http.StatusOK)
	})
}

// handleExport streams a paid export as a file download.
// POST /api/exports/{format}
func handleExport(svc *report.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body exportRequest
		if !decodeBody(w, r, &body, logger) {
			return
		}

		dr, err := report.ParseDateRange(body.StartDate, body.EndDate)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}

		f, err := svc.Export(r.Context(), body.PaymentID, r.PathValue("format"), body.Address, dr)
		if err != nil {
			writeServiceError(w, r, err, logger)
			return
		}

		w.Header().Set("Content-Type", f.ContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+f.Filename+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(f.Data); err != nil {
			logger.WarnContext(r.Context(), "failed to write export", "error", err)
		}
	})
}

// handleHealth reports liveness, and readiness when a check is configured.
// GET /health
func handleHealth(ready func(context.Context) error, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				logger.WarnContext(r.Context(), "readiness check failed", "error", err)
				writeJSON(w, map[string]string{"status": "unavailable"}, http.StatusServiceUnavailable)
				return
			}
		}
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
}

func addressAndRange(r *http.Request) (string, payment.DateRange, error) {
	address := r.PathValue("address")
	if err := report.ValidateAddress(address); err != nil {
		return "", payment.DateRange{}, err
	}
	q := r.URL.Query()
	dr, err := report.ParseDateRange(q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		return "", payment.DateRange{}, err
	}
	return address, dr, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.DebugContext(r.Context(), "invalid request body", "error", err)
		writeError(w, "invalid request body", "invalid_body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	var verr *report.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, verr.Message, verr.Code, http.StatusBadRequest)
	case errors.Is(err, payment.ErrInvalidRequest):
		writeError(w, err.Error(), "invalid_request", http.StatusBadRequest)
	case errors.Is(err, payment.ErrNotFound):
		writeError(w, "payment request not found", "not_found", http.StatusNotFound)
	case errors.Is(err, payment.ErrPaymentRequired):
		writeError(w, err.Error(), "payment_required", http.StatusPaymentRequired)
	case errors.Is(err, report.ErrNoTransactions):
		writeError(w, err.Error(), "no_transactions", http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		logger.DebugContext(r.Context(), "request canceled", "path", r.URL.Path)
	default:
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, "internal server error", "internal", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, code string, statusCode int) {
	writeJSON(w, errorResponse{Error: message, Code: code}, statusCode)
}
