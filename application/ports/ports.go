package ports

import (
	"context"
	"time"

	"learngraph/domain/events"
)

// TreeNodeRecord is the persisted form of an approved node
type TreeNodeRecord struct {
	ID      string  `json:"id" dynamodbav:"id" validate:"required,max=128"`
	Type    string  `json:"type" dynamodbav:"type" validate:"required,max=32"`
	Title   string  `json:"title" dynamodbav:"title" validate:"required,max=200"`
	X       float64 `json:"x" dynamodbav:"x"`
	Y       float64 `json:"y" dynamodbav:"y"`
	DueDate string  `json:"dueDate,omitempty" dynamodbav:"dueDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Content string  `json:"content,omitempty" dynamodbav:"content,omitempty"`
}

// TreeEdgeRecord is the persisted form of an approved edge
type TreeEdgeRecord struct {
	From string `json:"from" dynamodbav:"from" validate:"required,max=128"`
	To   string `json:"to" dynamodbav:"to" validate:"required,max=128"`
}

// TreeRecord is a full snapshot of one user's approved graph
type TreeRecord struct {
	UserID    string           `json:"userId" dynamodbav:"userId" validate:"required,max=128"`
	Nodes     []TreeNodeRecord `json:"nodes" dynamodbav:"nodes" validate:"max=5000,dive"`
	Edges     []TreeEdgeRecord `json:"edges" dynamodbav:"edges" validate:"max=20000,dive"`
	CreatedAt time.Time        `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt" dynamodbav:"updatedAt"`
}

// NewEmptyTree creates the record written on a user's first load
func NewEmptyTree(userID string, now time.Time) *TreeRecord {
	return &TreeRecord{
		UserID:    userID,
		Nodes:     []TreeNodeRecord{},
		Edges:     []TreeEdgeRecord{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TreeStore persists tree snapshots keyed by user id.
// This is a port in hexagonal architecture; adapters live under
// infrastructure/ (HTTP, DynamoDB, SQLite, memory).
type TreeStore interface {
	// GetTree returns the stored tree. A missing tree is reported with a
	// NotFound AppError so callers can bootstrap.
	GetTree(ctx context.Context, userID string) (*TreeRecord, error)

	// PutTree replaces the stored tree
	PutTree(ctx context.Context, tree *TreeRecord) error
}

// TreeCreator is implemented by stores that can create a tree only when
// none exists, so concurrent first loads do not clobber each other.
type TreeCreator interface {
	CreateTreeIfAbsent(ctx context.Context, tree *TreeRecord) (created bool, err error)
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// ClientSecret is a short-lived credential scoped to one realtime session
type ClientSecret struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RealtimeCredential is what the trusted backend hands to a voice client
type RealtimeCredential struct {
	ClientSecret ClientSecret `json:"client_secret"`
	Model        string       `json:"model"`
}

// CredentialIssuer mints realtime credentials using a server-held key
type CredentialIssuer interface {
	IssueCredential(ctx context.Context, userID string) (*RealtimeCredential, error)
}

// CredentialSource is the client-side view of the credential endpoint
type CredentialSource interface {
	FetchCredential(ctx context.Context) (*RealtimeCredential, error)
}
