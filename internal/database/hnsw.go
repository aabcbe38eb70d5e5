package database

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/doorbell-identify/internal/facerec"
)

// HNSWMaxNeighbors is the M parameter of the HNSW graph.
const HNSWMaxNeighbors = 16

// HNSWIndex wraps an in-memory HNSW graph over audit-event probe embeddings
// for similar-face search across past doorbell events.
type HNSWIndex struct {
	graph     *hnsw.Graph[string]
	idToEvent map[string]*AuditEvent
	mu        sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToEvent: make(map[string]*AuditEvent),
	}
}

// BuildFromEvents builds the index from a slice of events. Events without an
// embedding (Unknown verdicts) are skipped.
func (h *HNSWIndex) BuildFromEvents(events []AuditEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(events) == 0 {
		h.graph = nil
		h.idToEvent = make(map[string]*AuditEvent)
		return nil
	}

	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.EuclideanDistance

	h.idToEvent = make(map[string]*AuditEvent, len(events))

	for i := range events {
		event := &events[i]
		if len(event.ProbeEmbedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(event.ID, event.ProbeEmbedding))
		h.idToEvent[event.ID] = event
	}

	h.graph = g
	return nil
}

// Add adds a single event to the index.
func (h *HNSWIndex) Add(event *AuditEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(event.ProbeEmbedding) == 0 {
		return nil
	}
	if h.graph == nil {
		g := hnsw.NewGraph[string]()
		g.M = HNSWMaxNeighbors
		g.Ml = 1.0 / float64(HNSWMaxNeighbors)
		g.Distance = hnsw.EuclideanDistance
		h.graph = g
	}

	h.graph.Add(hnsw.MakeNode(event.ID, event.ProbeEmbedding))
	h.idToEvent[event.ID] = event
	return nil
}

// Search finds the k nearest neighbors to the query embedding.
// Returns event IDs and their euclidean distances.
func (h *HNSWIndex) Search(query []float32, k int) ([]string, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, nil, errors.New("index not initialized")
	}

	neighbors := h.graph.Search(query, k)

	ids := make([]string, len(neighbors))
	distances := make([]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.Key
		distances[i] = facerec.EuclideanDistance(query, n.Value)
	}

	return ids, distances, nil
}

// GetEvent returns the event for a given ID, or nil.
func (h *HNSWIndex) GetEvent(id string) *AuditEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToEvent[id]
}

// Count returns the number of indexed events.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToEvent)
}
