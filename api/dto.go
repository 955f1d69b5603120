/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Envelope wrappers

ENVELOPE:
  Every response is wrapped:
    success: {success, statusCode, message, data, timestamp}
    error:   {success: false, statusCode, error{code, message, details}, timestamp, path}

USER REFERENCE:
  Balances and entries carry "userId" as an object {_id, username}. The
  username is the display projection and is empty when unknown.

VALIDATION:
  Validation is done by the ledger, not in DTOs. DTOs are pure data carriers;
  the one exception is amount parsing (see parseAmount in handlers.go).

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// ENVELOPE
// =============================================================================

type SuccessResponse struct {
	Success    bool      `json:"success"`
	StatusCode int       `json:"statusCode"`
	Message    string    `json:"message"`
	Data       any       `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
}

type ErrorResponse struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"statusCode"`
	Error      ErrorDetail `json:"error"`
	Timestamp  time.Time   `json:"timestamp"`
	Path       string      `json:"path"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// AdjustPointsRequest is the body of PUT /api/points/update.
// Amount accepts a JSON number or a numeric string.
type AdjustPointsRequest struct {
	UserID         string      `json:"userId"`
	Amount         json.Number `json:"amount"`
	Description    string      `json:"description"`
	Type           string      `json:"type"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type UserRefDTO struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
}

type BalanceDTO struct {
	User      UserRefDTO `json:"userId"`
	Balance   int64      `json:"balance"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

type HistoryEntryDTO struct {
	ID             string     `json:"_id"`
	User           UserRefDTO `json:"userId"`
	Amount         int64      `json:"amount"`
	Action         string     `json:"action"`
	BalanceBefore  int64      `json:"balanceBefore"`
	BalanceAfter   int64      `json:"balanceAfter"`
	Description    string     `json:"description"`
	Type           string     `json:"type"`
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type PageMetaDTO struct {
	Page            int  `json:"page"`
	Limit           int  `json:"limit"`
	TotalItems      int  `json:"totalItems"`
	TotalPages      int  `json:"totalPages"`
	HasPreviousPage bool `json:"hasPreviousPage"`
	HasNextPage     bool `json:"hasNextPage"`
}

type PaginatedDTO[T any] struct {
	Items []T         `json:"items"`
	Meta  PageMetaDTO `json:"meta"`
}

type SummaryDTO struct {
	Balance int64             `json:"balance"`
	History []HistoryEntryDTO `json:"history"`
}

type ChainBreakDTO struct {
	Index   int    `json:"index"`
	EntryID string `json:"entryId,omitempty"`
	Reason  string `json:"reason"`
}

type ChainReportDTO struct {
	UserID        string          `json:"userId"`
	OK            bool            `json:"ok"`
	Entries       int             `json:"entries"`
	StoredBalance int64           `json:"storedBalance"`
	ChainBalance  int64           `json:"chainBalance"`
	Breaks        []ChainBreakDTO `json:"breaks"`
}

type HealthDTO struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	dto := BalanceDTO{
		User:    UserRefDTO{ID: string(b.UserID), Username: b.Username},
		Balance: b.Balance,
	}
	if b.Exists() {
		updated := b.UpdatedAt
		dto.UpdatedAt = &updated
	}
	return dto
}

func toHistoryEntryDTO(e ledger.HistoryEntry) HistoryEntryDTO {
	return HistoryEntryDTO{
		ID:             string(e.ID),
		User:           UserRefDTO{ID: string(e.UserID), Username: e.Username},
		Amount:         e.Amount,
		Action:         string(e.Action()),
		BalanceBefore:  e.BalanceBefore,
		BalanceAfter:   e.BalanceAfter,
		Description:    e.Description,
		Type:           string(e.Type),
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt,
	}
}

func toHistoryEntryDTOs(entries []ledger.HistoryEntry) []HistoryEntryDTO {
	dtos := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toHistoryEntryDTO(e)
	}
	return dtos
}

func toPageMetaDTO(m ledger.PageMeta) PageMetaDTO {
	return PageMetaDTO{
		Page:            m.Page,
		Limit:           m.PageSize,
		TotalItems:      m.TotalItems,
		TotalPages:      m.TotalPages,
		HasPreviousPage: m.HasPreviousPage,
		HasNextPage:     m.HasNextPage,
	}
}

func toChainReportDTO(r ledger.ChainReport) ChainReportDTO {
	breaks := make([]ChainBreakDTO, len(r.Breaks))
	for i, b := range r.Breaks {
		breaks[i] = ChainBreakDTO{Index: b.Index, EntryID: string(b.EntryID), Reason: b.Reason}
	}
	return ChainReportDTO{
		UserID:        string(r.UserID),
		OK:            r.OK(),
		Entries:       r.Entries,
		StoredBalance: r.StoredBalance,
		ChainBalance:  r.ChainBalance,
		Breaks:        breaks,
	}
}
