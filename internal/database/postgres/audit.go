package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/doorbell-identify/internal/database"
)

// AuditRepository provides PostgreSQL-backed audit-event storage with an
// optional in-memory HNSW index for similar-face search.
type AuditRepository struct {
	pool        *Pool
	hnswIndex   *database.HNSWIndex
	hnswEnabled bool
	hnswMu      sync.RWMutex
}

// NewAuditRepository creates a new PostgreSQL audit repository.
func NewAuditRepository(pool *Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// nullVector scans a nullable pgvector column.
type nullVector struct {
	vec   pgvector.Vector
	valid bool
}

func (n *nullVector) Scan(src any) error {
	if src == nil {
		n.valid = false
		return nil
	}
	n.valid = true
	return n.vec.Scan(src)
}

// RecordEvent stores one completed identification. A missing ID or timestamp
// is filled in; embeddings are stored only for matched events.
func (r *AuditRepository) RecordEvent(ctx context.Context, event *database.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var embedding any
	if len(event.ProbeEmbedding) > 0 {
		embedding = pgvector.NewVector(event.ProbeEmbedding)
	}

	query := `
		INSERT INTO audit_events (id, new_images_path, library_path, allowed_ids, identification, reason, matched_file, probe_embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		event.ID, event.NewImagesPath, event.LibraryPath, pq.Array(event.AllowedIDs),
		event.Identification, event.Reason, event.MatchedFile, embedding, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	r.hnswMu.RLock()
	enabled := r.hnswEnabled
	r.hnswMu.RUnlock()
	if enabled && len(event.ProbeEmbedding) > 0 {
		if err := r.hnswIndex.Add(event); err != nil {
			return fmt.Errorf("index audit event: %w", err)
		}
	}
	return nil
}

// RecentEvents returns the newest events first. Embeddings are not loaded.
func (r *AuditRepository) RecentEvents(ctx context.Context, limit int) ([]database.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, new_images_path, library_path, allowed_ids, identification, reason, matched_file, created_at
		FROM audit_events
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []database.AuditEvent
	for rows.Next() {
		var e database.AuditEvent
		if err := rows.Scan(&e.ID, &e.NewImagesPath, &e.LibraryPath, pq.Array(&e.AllowedIDs),
			&e.Identification, &e.Reason, &e.MatchedFile, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// GetEvent returns a single event including its probe embedding, or nil when
// the ID is unknown.
func (r *AuditRepository) GetEvent(ctx context.Context, id string) (*database.AuditEvent, error) {
	query := `
		SELECT id, new_images_path, library_path, allowed_ids, identification, reason, matched_file, probe_embedding, created_at
		FROM audit_events
		WHERE id = $1
	`
	var e database.AuditEvent
	var emb nullVector
	err := r.pool.QueryRow(ctx, query, id).Scan(&e.ID, &e.NewImagesPath, &e.LibraryPath, pq.Array(&e.AllowedIDs),
		&e.Identification, &e.Reason, &e.MatchedFile, &emb, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	if emb.valid {
		e.ProbeEmbedding = emb.vec.Slice()
	}
	return &e, nil
}

// FindSimilar returns events whose probe face is nearest to the query
// embedding. Uses the HNSW index when enabled, otherwise a pgvector scan.
func (r *AuditRepository) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]database.AuditEvent, []float64, error) {
	if limit <= 0 {
		limit = 10
	}

	r.hnswMu.RLock()
	enabled := r.hnswEnabled
	index := r.hnswIndex
	r.hnswMu.RUnlock()

	if enabled {
		ids, distances, err := index.Search(embedding, limit)
		if err != nil {
			return nil, nil, fmt.Errorf("hnsw search: %w", err)
		}
		events := make([]database.AuditEvent, 0, len(ids))
		dists := make([]float64, 0, len(ids))
		for i, id := range ids {
			if e := index.GetEvent(id); e != nil {
				events = append(events, *e)
				dists = append(dists, distances[i])
			}
		}
		return events, dists, nil
	}

	query := `
		SELECT id, new_images_path, library_path, allowed_ids, identification, reason, matched_file, created_at,
		       probe_embedding <-> $1 AS distance
		FROM audit_events
		WHERE probe_embedding IS NOT NULL
		ORDER BY distance
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar events: %w", err)
	}
	defer rows.Close()

	var events []database.AuditEvent
	var distances []float64
	for rows.Next() {
		var e database.AuditEvent
		var distance float64
		if err := rows.Scan(&e.ID, &e.NewImagesPath, &e.LibraryPath, pq.Array(&e.AllowedIDs),
			&e.Identification, &e.Reason, &e.MatchedFile, &e.CreatedAt, &distance); err != nil {
			return nil, nil, fmt.Errorf("scan similar event: %w", err)
		}
		events = append(events, e)
		distances = append(distances, distance)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate similar events: %w", err)
	}
	return events, distances, nil
}

// EnableHNSW loads all embedded events and builds the in-memory index.
func (r *AuditRepository) EnableHNSW(ctx context.Context) error {
	query := `
		SELECT id, new_images_path, library_path, allowed_ids, identification, reason, matched_file, probe_embedding, created_at
		FROM audit_events
		WHERE probe_embedding IS NOT NULL
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("load audit embeddings: %w", err)
	}
	defer rows.Close()

	var events []database.AuditEvent
	for rows.Next() {
		var e database.AuditEvent
		var emb pgvector.Vector
		if err := rows.Scan(&e.ID, &e.NewImagesPath, &e.LibraryPath, pq.Array(&e.AllowedIDs),
			&e.Identification, &e.Reason, &e.MatchedFile, &emb, &e.CreatedAt); err != nil {
			return fmt.Errorf("scan audit embedding: %w", err)
		}
		e.ProbeEmbedding = emb.Slice()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate audit embeddings: %w", err)
	}

	index := database.NewHNSWIndex()
	if err := index.BuildFromEvents(events); err != nil {
		return fmt.Errorf("build hnsw index: %w", err)
	}

	r.hnswMu.Lock()
	r.hnswIndex = index
	r.hnswEnabled = true
	r.hnswMu.Unlock()
	return nil
}

// HNSWCount returns the number of events in the HNSW index.
func (r *AuditRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}
