package events

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"go.uber.org/zap"

	"github.com/danghamo/docidentity/pkg/logger"
)

// AuditEntry is one line of the audit trail.
type AuditEntry struct {
	Event     string         `json:"event"`
	SubjectID string         `json:"subject_id"`
	Key       string         `json:"key,omitempty"`
	Changes   map[string]any `json:"changes,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditHandler consumes identity events, logs them and keeps the most recent
// entries in memory.
type AuditHandler struct {
	logger   *logger.Logger
	capacity int

	mu        sync.RWMutex
	trail     []AuditEntry
	listeners []func(AuditEntry)
}

// NewAuditHandler creates a handler keeping up to capacity entries.
func NewAuditHandler(log *logger.Logger, capacity int) *AuditHandler {
	if log == nil {
		log = logger.NewNop()
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &AuditHandler{
		logger:   log.WithComponent("audit-event-handler"),
		capacity: capacity,
	}
}

// Handlers returns the CQRS handlers to register on a Bus.
func (h *AuditHandler) Handlers() []cqrs.EventHandler {
	return []cqrs.EventHandler{
		cqrs.NewEventHandler("AuditUserCreated", h.HandleUserCreated),
		cqrs.NewEventHandler("AuditUserUpdated", h.HandleUserUpdated),
		cqrs.NewEventHandler("AuditUserDeleted", h.HandleUserDeleted),
		cqrs.NewEventHandler("AuditRoleCreated", h.HandleRoleCreated),
		cqrs.NewEventHandler("AuditRoleUpdated", h.HandleRoleUpdated),
		cqrs.NewEventHandler("AuditRoleDeleted", h.HandleRoleDeleted),
	}
}

func (h *AuditHandler) HandleUserCreated(ctx context.Context, event *UserCreatedEvent) error {
	h.append(AuditEntry{
		Event:     "user.created",
		SubjectID: event.UserID,
		Key:       event.NormalizedUserName,
		RequestID: event.RequestID,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (h *AuditHandler) HandleUserUpdated(ctx context.Context, event *UserUpdatedEvent) error {
	h.append(AuditEntry{
		Event:     "user.updated",
		SubjectID: event.UserID,
		Changes:   event.Changes,
		RequestID: event.RequestID,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (h *AuditHandler) HandleUserDeleted(ctx context.Context, event *UserDeletedEvent) error {
	h.append(AuditEntry{
		Event:     "user.deleted",
		SubjectID: event.UserID,
		Key:       event.NormalizedUserName,
		RequestID: event.RequestID,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (h *AuditHandler) HandleRoleCreated(ctx context.Context, event *RoleCreatedEvent) error {
	h.append(AuditEntry{
		Event:     "role.created",
		SubjectID: event.RoleID,
		Key:       event.NormalizedName,
		RequestID: event.RequestID,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (h *AuditHandler) HandleRoleUpdated(ctx context.Context, event *RoleUpdatedEvent) error {
	h.append(AuditEntry{
		Event:     "role.updated",
		SubjectID: event.RoleID,
		Changes:   event.Changes,
		RequestID: event.RequestID,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (h *AuditHandler) HandleRoleDeleted(ctx context.Context, event *RoleDeletedEvent) error {
	h.append(AuditEntry{
		Event:     "role.deleted",
		SubjectID: event.RoleID,
		Key:       event.NormalizedName,
		RequestID: event.RequestID,
		Timestamp: event.Timestamp,
	})
	return nil
}

// Recent returns up to n entries, newest first. n <= 0 returns all.
func (h *AuditHandler) Recent(n int) []AuditEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.trail) {
		n = len(h.trail)
	}
	out := make([]AuditEntry, 0, n)
	for i := len(h.trail) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.trail[i])
	}
	return out
}

func (h *AuditHandler) append(entry AuditEntry) {
	h.logger.Info("Identity change",
		zap.String("event", entry.Event),
		zap.String("subject_id", entry.SubjectID),
		zap.String("key", entry.Key),
		zap.String("request_id", entry.RequestID),
		zap.Any("changes", entry.Changes),
	)

	h.mu.Lock()
	h.trail = append(h.trail, entry)
	if len(h.trail) > h.capacity {
		h.trail = h.trail[len(h.trail)-h.capacity:]
	}
	listeners := h.listeners
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(entry)
	}
}

// Subscribe registers fn to receive every entry after it is recorded.
// fn runs on the event router goroutine and must not block.
func (h *AuditHandler) Subscribe(fn func(AuditEntry)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}
