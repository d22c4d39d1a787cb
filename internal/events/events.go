// Package events publishes change notifications for users and roles over a
// watermill CQRS event bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Publisher publishes a single event. *cqrs.EventBus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// UserCreatedEvent is published after a user and its mappings were written.
type UserCreatedEvent struct {
	UserID             string    `json:"user_id"`
	NormalizedUserName string    `json:"normalized_user_name"`
	NormalizedEmail    string    `json:"normalized_email,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	RequestID          string    `json:"request_id,omitempty"`
}

// UserUpdatedEvent carries the JSON merge patch between the previous and the new version.
type UserUpdatedEvent struct {
	UserID    string         `json:"user_id"`
	Changes   map[string]any `json:"changes,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
}

// UserDeletedEvent is published after a user's mappings and record were removed.
type UserDeletedEvent struct {
	UserID             string    `json:"user_id"`
	NormalizedUserName string    `json:"normalized_user_name"`
	Timestamp          time.Time `json:"timestamp"`
	RequestID          string    `json:"request_id,omitempty"`
}

// RoleCreatedEvent is published after a role and its mapping were written.
type RoleCreatedEvent struct {
	RoleID         string    `json:"role_id"`
	NormalizedName string    `json:"normalized_name"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id,omitempty"`
}

// RoleUpdatedEvent carries the merge patch of a role update.
type RoleUpdatedEvent struct {
	RoleID    string         `json:"role_id"`
	Changes   map[string]any `json:"changes,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
}

// RoleDeletedEvent is published after a role was removed.
type RoleDeletedEvent struct {
	RoleID         string    `json:"role_id"`
	NormalizedName string    `json:"normalized_name"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id,omitempty"`
}

// redacted fields never leave the store in a change set.
var redacted = []string{"passwordHash", "securityStamp", "tokens"}

// Changes returns a JSON merge patch (RFC 7386) turning original into updated,
// decoded as a map. Credential fields are masked.
func Changes(original, updated any) (map[string]any, error) {
	originalJSON, err := json.Marshal(original)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal original: %w", err)
	}
	updatedJSON, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal updated: %w", err)
	}

	mergePatch, err := jsonpatch.CreateMergePatch(originalJSON, updatedJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to create merge patch: %w", err)
	}

	var changes map[string]any
	if err := json.Unmarshal(mergePatch, &changes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal merge patch: %w", err)
	}
	for _, field := range redacted {
		if _, ok := changes[field]; ok {
			changes[field] = "[redacted]"
		}
	}
	return changes, nil
}

type requestIDKey struct{}

// WithRequestID attaches a request id that published events carry along.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the request id stored by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
