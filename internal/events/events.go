package events

import (
	"time"
)

// Type names a domain event. The same string is used as the outbound event
// name delivered to clients.
type Type string

// Domain event types, one per committed mutation.
const (
	TaskCreated      Type = "task.created"
	TaskUpdated      Type = "task.updated"
	TaskDeleted      Type = "task.deleted"
	FileUploaded     Type = "file.uploaded"
	FileDeleted      Type = "file.deleted"
	FilesBulkDeleted Type = "files.bulk_deleted"
)

// Presence notifications. These are produced by the transport layer, not by
// mutation services, and are never published on the Bus.
const (
	UserOnline   Type = "user.online"
	UserOffline  Type = "user.offline"
	PresenceList Type = "presence.list"
)

var domainTypes = []Type{
	TaskCreated,
	TaskUpdated,
	TaskDeleted,
	FileUploaded,
	FileDeleted,
	FilesBulkDeleted,
}

// DomainTypes returns every domain event type in a stable order.
func DomainTypes() []Type {
	out := make([]Type, len(domainTypes))
	copy(out, domainTypes)
	return out
}

// Valid reports whether t is one of the domain event types.
func (t Type) Valid() bool {
	for _, dt := range domainTypes {
		if t == dt {
			return true
		}
	}
	return false
}

// DomainEvent is an immutable record of one committed mutation.
//
// ActorID identifies whose action caused the event. It is used only to
// exclude the actor's own connections from delivery and is never part of the
// payload sent to clients. An empty ActorID means no exclusion.
type DomainEvent struct {
	Type      Type      `json:"type"`
	Payload   any       `json:"payload"`
	ActorID   string    `json:"actor_id,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

// New returns a DomainEvent stamped with the current time.
func New(t Type, payload any, actorID string) DomainEvent {
	return DomainEvent{
		Type:      t,
		Payload:   payload,
		ActorID:   actorID,
		EmittedAt: time.Now().UTC(),
	}
}

// Payload shapes for the task and file events. Mutation services may publish
// any JSON-encodable value; these mirror what the task board API returns.

type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	CreatedByID int64      `json:"createdById"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type File struct {
	ID           int64  `json:"id"`
	TaskID       int64  `json:"taskId"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	Path         string `json:"path"`
}

type FilesBulkDeletedPayload struct {
	TaskID  int64   `json:"taskId"`
	FileIDs []int64 `json:"fileIds"`
}

// PresenceChange is the payload of user.online and user.offline.
type PresenceChange struct {
	UserID string `json:"user_id"`
}
