/*
handlers.go - HTTP API handlers for the points ledger

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the ledger engine and query layer.

ENDPOINTS:
  Balances:
    GET    /api/points                          All balances (paginated)
    GET    /api/points/user/{userId}/balance    One user's balance
    GET    /api/points/user/{userId}/history    One user's history (paginated)
    GET    /api/points/user/{userId}/summary    Balance + 10 newest entries
    GET    /api/points/user/{userId}/verify     History chain check

  Admin:
    PUT    /api/points/update                   Apply a signed adjustment

  Ops:
    GET    /health                              Liveness + database ping

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the ledger (it validates)
  3. Serialize response in the envelope
  4. Map errors to status codes

ERROR HANDLING:
  - 400: ErrInvalidAdjustment, malformed body or query
  - 500: ErrLedgerWriteFailed (not retryable), ErrLedgerReadFailed
  - 503: ErrLedgerWriteFailed caused by lock contention (retry may succeed)

SECURITY NOTE:
  Authentication and role checks happen upstream. The update route is
  admin-only by contract, not enforced here.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/warp/points-ledger/ledger"
)

// maxBodyBytes bounds adjustment request bodies.
const maxBodyBytes = 1 << 20

// IdempotencyKeyHeader may carry the key instead of the body field.
const IdempotencyKeyHeader = "Idempotency-Key"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.Ledger
	Log    *slog.Logger

	// Pinger is optional; /health skips the database check without it.
	Pinger Pinger

	now func() time.Time
}

// NewHandler creates a new handler serving l.
func NewHandler(l *ledger.Ledger, log *slog.Logger) *Handler {
	return &Handler{
		Ledger: l,
		Log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// ListBalances returns every user's balance, most recently updated first.
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	result, err := h.Ledger.ListAllBalances(r.Context(), page)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	items := make([]BalanceDTO, len(result.Items))
	for i, b := range result.Items {
		items[i] = toBalanceDTO(b)
	}
	h.writeSuccess(w, r, http.StatusOK, "All user balances retrieved successfully", PaginatedDTO[BalanceDTO]{
		Items: items,
		Meta:  toPageMetaDTO(result.Meta),
	})
}

// GetBalance returns one user's balance. Unknown users have balance 0.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "userId"))

	b, err := h.Ledger.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeSuccess(w, r, http.StatusOK, "User balance retrieved successfully", toBalanceDTO(b))
}

// GetHistory returns one page of a user's history, newest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "userId"))
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	result, err := h.Ledger.GetHistory(r.Context(), userID, page)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeSuccess(w, r, http.StatusOK, "User's point history retrieved successfully", PaginatedDTO[HistoryEntryDTO]{
		Items: toHistoryEntryDTOs(result.Items),
		Meta:  toPageMetaDTO(result.Meta),
	})
}

// GetSummary returns the balance and the newest history entries.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "userId"))

	s, err := h.Ledger.GetSummary(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeSuccess(w, r, http.StatusOK, "User point summary retrieved successfully", SummaryDTO{
		Balance: s.Balance,
		History: toHistoryEntryDTOs(s.History),
	})
}

// VerifyChain checks the user's history chain against the stored balance.
// A broken chain is still a 200; data.ok is false.
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "userId"))

	report, err := h.Ledger.VerifyChain(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeSuccess(w, r, http.StatusOK, "User point history verified", toChainReportDTO(report))
}

// =============================================================================
// ADJUSTMENT HANDLER
// =============================================================================

// AdjustPoints applies a signed adjustment and returns the history entry.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAdjustRequest(w, r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	adj, err := req.toAdjustment(r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	entry, err := h.Ledger.AdjustBalance(r.Context(), adj)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeSuccess(w, r, http.StatusOK, "User points adjusted successfully", toHistoryEntryDTO(entry))
}

// decodeAdjustRequest accepts JSON, urlencoded and multipart form bodies.
func decodeAdjustRequest(w http.ResponseWriter, r *http.Request) (AdjustPointsRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data", "application/x-www-form-urlencoded":
		if mediaType == "multipart/form-data" {
			if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
				return AdjustPointsRequest{}, err
			}
		} else if err := r.ParseForm(); err != nil {
			return AdjustPointsRequest{}, err
		}
		return AdjustPointsRequest{
			UserID:         r.PostFormValue("userId"),
			Amount:         json.Number(strings.TrimSpace(r.PostFormValue("amount"))),
			Description:    r.PostFormValue("description"),
			Type:           r.PostFormValue("type"),
			IdempotencyKey: r.PostFormValue("idempotencyKey"),
		}, nil
	default:
		var req AdjustPointsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return AdjustPointsRequest{}, err
		}
		return req, nil
	}
}

func (req AdjustPointsRequest) toAdjustment(headerKey string) (ledger.Adjustment, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return ledger.Adjustment{}, err
	}

	key := req.IdempotencyKey
	if headerKey != "" {
		if key != "" && key != headerKey {
			return ledger.Adjustment{}, &ledger.ValidationError{
				Field:  "idempotencyKey",
				Reason: "header and body disagree",
			}
		}
		key = headerKey
	}

	return ledger.Adjustment{
		UserID:         ledger.UserID(req.UserID),
		Amount:         amount,
		Description:    req.Description,
		Type:           ledger.EntryType(req.Type),
		IdempotencyKey: key,
	}, nil
}

// parseAmount reads the amount exactly. Fractions and values beyond
// MaxAbsAmount are rejected, never rounded or truncated.
func parseAmount(n json.Number) (int64, error) {
	if n == "" {
		return 0, &ledger.ValidationError{Field: "amount", Reason: "is required"}
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return 0, &ledger.ValidationError{Field: "amount", Reason: "must be a number"}
	}
	if !d.IsInteger() {
		return 0, &ledger.ValidationError{Field: "amount", Reason: "must be a whole number of points"}
	}
	if d.Abs().GreaterThan(decimal.NewFromInt(ledger.MaxAbsAmount)) {
		return 0, &ledger.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must be within ±%d", int64(ledger.MaxAbsAmount)),
		}
	}
	return d.IntPart(), nil
}

// parsePage reads ?page and ?limit. Missing, zero or oversized values are
// clamped by the ledger; only non-integers are rejected.
func parsePage(r *http.Request) (ledger.Page, error) {
	var p ledger.Page
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("page must be an integer")
		}
		p.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("limit must be an integer")
		}
		p.PageSize = n
	}
	return p, nil
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dto := HealthDTO{Status: "ok", Database: "unchecked"}
	if h.Pinger != nil {
		if err := h.Pinger.Ping(r.Context()); err != nil {
			h.Log.Error("health check failed", "error", err)
			h.writeError(w, r, http.StatusServiceUnavailable, "Database unreachable", nil)
			return
		}
		dto.Database = "ok"
	}
	h.writeSuccess(w, r, http.StatusOK, "OK", dto)
}

// =============================================================================
// HELPERS
// =============================================================================

// writeJSON sends data with status. The status line is already out when
// encoding fails, so the failure can only be logged.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Log.Debug("failed to encode response",
			"path", r.URL.Path,
			"status", status,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
}

func (h *Handler) writeSuccess(w http.ResponseWriter, r *http.Request, status int, message string, data any) {
	h.writeJSON(w, r, status, SuccessResponse{
		Success:    true,
		StatusCode: status,
		Message:    message,
		Data:       data,
		Timestamp:  h.now(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, message string, details any) {
	h.writeJSON(w, r, status, ErrorResponse{
		Success:    false,
		StatusCode: status,
		Error: ErrorDetail{
			Code:    statusCode(status),
			Message: message,
			Details: details,
		},
		Timestamp: h.now(),
		Path:      r.URL.RequestURI(),
	})
}

// writeLedgerError maps the ledger's error taxonomy onto HTTP.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		h.writeError(w, r, http.StatusBadRequest, ve.Error(), map[string]string{
			"field":  ve.Field,
			"reason": ve.Reason,
		})
	case ledger.IsClientError(err):
		h.writeError(w, r, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, ledger.ErrLedgerWriteFailed) && ledger.IsRetryable(err):
		h.logServerError(r, err)
		h.writeError(w, r, http.StatusServiceUnavailable, "Ledger busy, retry the adjustment", nil)
	case errors.Is(err, ledger.ErrLedgerWriteFailed):
		h.logServerError(r, err)
		h.writeError(w, r, http.StatusInternalServerError, "Failed to apply adjustment", nil)
	default:
		h.logServerError(r, err)
		h.writeError(w, r, http.StatusInternalServerError, "Internal server error", nil)
	}
}

func (h *Handler) logServerError(r *http.Request, err error) {
	h.Log.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
}

// statusCode renders 400 as "BAD_REQUEST", 503 as "SERVICE_UNAVAILABLE".
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "HTTP_EXCEPTION"
	}
	return strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
}
