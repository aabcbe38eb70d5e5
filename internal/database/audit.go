// Package database defines the audit-event model and the backend registry.
// The audit log records completed identifications so past doorbell events can
// be reviewed and searched; the identification path itself never reads it.
package database

import (
	"context"
	"fmt"
	"time"
)

// AuditEvent records one completed identification request.
type AuditEvent struct {
	ID             string    `json:"id"`
	NewImagesPath  string    `json:"new_images_path"`
	LibraryPath    string    `json:"library_path"`
	AllowedIDs     []string  `json:"allowed_ids"`
	Identification string    `json:"identification"`
	Reason         string    `json:"reason,omitempty"`
	MatchedFile    string    `json:"matched_file,omitempty"`
	ProbeEmbedding []float32 `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditWriter records audit events.
type AuditWriter interface {
	RecordEvent(ctx context.Context, event *AuditEvent) error
}

// AuditReader reads back audit events.
type AuditReader interface {
	// RecentEvents returns the newest events first, without embeddings.
	RecentEvents(ctx context.Context, limit int) ([]AuditEvent, error)
	// GetEvent returns a single event including its probe embedding,
	// or nil when the ID is unknown.
	GetEvent(ctx context.Context, id string) (*AuditEvent, error)
	// FindSimilar returns events whose probe face is closest to the query
	// embedding, with their distances.
	FindSimilar(ctx context.Context, embedding []float32, limit int) ([]AuditEvent, []float64, error)
}

var (
	postgresAuditWriter func() AuditWriter
	postgresAuditReader func() AuditReader
	postgresInitialized bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(writer func() AuditWriter, reader func() AuditReader) {
	postgresAuditWriter = writer
	postgresAuditReader = reader
	postgresInitialized = true
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

// GetAuditWriter returns an AuditWriter from the PostgreSQL backend.
func GetAuditWriter(ctx context.Context) (AuditWriter, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresAuditWriter == nil {
		return nil, fmt.Errorf("PostgreSQL audit writer not registered")
	}
	return postgresAuditWriter(), nil
}

// GetAuditReader returns an AuditReader from the PostgreSQL backend.
func GetAuditReader(ctx context.Context) (AuditReader, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresAuditReader == nil {
		return nil, fmt.Errorf("PostgreSQL audit reader not registered")
	}
	return postgresAuditReader(), nil
}
