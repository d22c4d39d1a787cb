package handlers

import (
	"net/http"

	"github.com/danghamo/docidentity/internal/api/jsonrpcx"
	"github.com/danghamo/docidentity/internal/events"
)

// AuditTrail is the read side of the change-event audit log.
type AuditTrail interface {
	Recent(n int) []events.AuditEntry
}

// AuditHandler handles audit.* JSON-RPC methods
type AuditHandler struct {
	trail AuditTrail
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(trail AuditTrail) *AuditHandler {
	return &AuditHandler{trail: trail}
}

type RecentAuditRequest struct {
	Limit int `json:"limit,omitempty" validate:"omitempty,min=1,max=1000"`
}

type RecentAuditResponse struct {
	Entries []events.AuditEntry `json:"entries"`
}

// Recent handles POST /api/v1/audit.Recent
// @Summary Recent identity changes
// @Description Newest first. Empty when change events are disabled.
// @Tags audit
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[RecentAuditRequest] true "JSON-RPC request"
// @Success 200 {object} jsonrpcx.ResponseT[RecentAuditResponse] "Audit entries"
// @Security BearerAuth
// @Router /api/v1/audit.Recent [post]
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	req, params, ok := parse[RecentAuditRequest](r)
	if !ok {
		return
	}

	limit := params.Limit
	if limit == 0 {
		limit = 50
	}

	entries := []events.AuditEntry{}
	if h.trail != nil {
		entries = append(entries, h.trail.Recent(limit)...)
	}
	jsonrpcx.Success(w, req.ID, RecentAuditResponse{Entries: entries})
}
