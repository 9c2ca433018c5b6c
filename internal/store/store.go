// Package store owns the documents, blocks and entities of one review batch.
package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"go.uber.org/zap"
)

var (
	ErrEntityNotFound   = errors.New("entity not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidStatus    = errors.New("invalid status transition")
)

// Filter narrows entity queries. Zero fields match everything.
type Filter struct {
	DocumentID string
	BlockID    string
	Status     model.Status
	Type       model.PIIType
}

func (f Filter) match(e *model.PIIEntity) bool {
	return (f.DocumentID == "" || e.DocumentID == f.DocumentID) &&
		(f.BlockID == "" || e.BlockID == f.BlockID) &&
		(f.Status == "" || e.Status == f.Status) &&
		(f.Type == "" || e.Type == f.Type)
}

// Snapshot is a deep copy of the store taken under one lock
type Snapshot struct {
	BatchID   string             `json:"batchId"`
	TakenAt   time.Time          `json:"takenAt"`
	Documents []*model.Document  `json:"documents"`
	Entities  []*model.PIIEntity `json:"entities"`
}

// Pending returns the number of pending entities in the snapshot
func (s *Snapshot) Pending() int {
	n := 0
	for _, e := range s.Entities {
		if e.Status == model.StatusPending {
			n++
		}
	}
	return n
}

// EntityStore is the single source of truth for a batch. Callers never get
// pointers into its state: every read returns copies.
type EntityStore struct {
	mu       sync.RWMutex
	batchID  string
	docs     []*model.Document
	docIndex map[string]*model.Document
	blocks   map[string]*model.Block
	entities []*model.PIIEntity
	byID     map[string]*model.PIIEntity
	tokens   map[string]string
	logger   *logger.Logger
}

// New creates an empty store
func New(log *logger.Logger) *EntityStore {
	s := &EntityStore{logger: log.WithComponent("entity_store")}
	s.Reset("")
	return s
}

// Reset drops all state and starts a new batch
func (s *EntityStore) Reset(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batchID = batchID
	s.docs = make([]*model.Document, 0)
	s.docIndex = make(map[string]*model.Document)
	s.blocks = make(map[string]*model.Block)
	s.entities = make([]*model.PIIEntity, 0)
	s.byID = make(map[string]*model.PIIEntity)
	s.tokens = make(map[string]string)
}

// BatchID returns the current batch id
func (s *EntityStore) BatchID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchID
}

// AddDocuments stores copies of docs
func (s *EntityStore) AddDocuments(docs ...*model.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		if _, exists := s.docIndex[doc.ID]; exists {
			continue
		}
		cp := doc.Clone()
		s.docs = append(s.docs, cp)
		s.docIndex[cp.ID] = cp
		for _, b := range cp.Blocks {
			s.blocks[b.ID] = b
		}
	}
}

// AddEntities stores copies of entities that fit their block. Entities
// pointing at unknown blocks or outside block text are dropped; a token
// already held by another entity is replaced by the next free index of the
// same type. Returns the number stored.
func (s *EntityStore) AddEntities(entities []*model.PIIEntity) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, e := range entities {
		if _, exists := s.byID[e.ID]; exists {
			continue
		}
		block, ok := s.blocks[e.BlockID]
		if !ok || block.DocumentID != e.DocumentID {
			s.logger.Warn("Entity references unknown block",
				logger.EntityFields(e.ID, string(e.Type), e.Token, e.BlockID, e.Start, e.Length)...)
			continue
		}
		if err := e.Validate(block.Text); err != nil {
			s.logger.Warn("Entity rejected",
				append(logger.EntityFields(e.ID, string(e.Type), e.Token, e.BlockID, e.Start, e.Length), zap.Error(err))...)
			continue
		}

		cp := e.Clone()
		if _, taken := s.tokens[cp.Token]; taken || cp.Token == "" {
			cp.Token = s.nextFreeToken(cp.Type, cp.Token)
		}
		s.tokens[cp.Token] = cp.ID
		s.entities = append(s.entities, cp)
		s.byID[cp.ID] = cp
		added++
	}
	return added
}

// nextFreeToken continues after the colliding index, or from 1
func (s *EntityStore) nextFreeToken(t model.PIIType, collided string) string {
	idx := 1
	if i := strings.LastIndexByte(collided, '_'); i >= 0 {
		if n, err := strconv.Atoi(collided[i+1:]); err == nil {
			idx = n + 1
		}
	}
	for {
		token := model.FormatToken(t, idx)
		if _, taken := s.tokens[token]; !taken {
			return token
		}
		idx++
	}
}

// Documents returns copies of all documents in ingestion order
func (s *EntityStore) Documents() []*model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d.Clone())
	}
	return out
}

// Document returns a copy of one document
func (s *EntityStore) Document(id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return doc.Clone(), nil
}

// Entities returns copies of the entities matching f
func (s *EntityStore) Entities(f Filter) []*model.PIIEntity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.PIIEntity, 0)
	for _, e := range s.entities {
		if f.match(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Entity returns a copy of one entity
func (s *EntityStore) Entity(id string) (*model.PIIEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return e.Clone(), nil
}

// SetStatus records a reviewer decision. Nothing may return to pending.
func (s *EntityStore) SetStatus(id string, status model.Status) (*model.PIIEntity, error) {
	if !status.Resolved() {
		return nil, fmt.Errorf("%w: cannot set %q", ErrInvalidStatus, status)
	}
	return s.update(id, func(e *model.PIIEntity) { e.Status = status })
}

// Toggle flips approved and rejected; pending resolves to approved
func (s *EntityStore) Toggle(id string) (*model.PIIEntity, error) {
	return s.update(id, func(e *model.PIIEntity) { e.Status = e.Status.Toggle() })
}

func (s *EntityStore) update(id string, fn func(*model.PIIEntity)) (*model.PIIEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	prev := e.Status
	fn(e)
	s.logger.Debug("Entity status changed",
		append(logger.EntityFields(e.ID, string(e.Type), e.Token, e.BlockID, e.Start, e.Length),
			zap.String("from", string(prev)), zap.String("to", string(e.Status)))...)
	return e.Clone(), nil
}

// PendingCount returns the number of pending entities
func (s *EntityStore) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entities {
		if e.Status == model.StatusPending {
			n++
		}
	}
	return n
}

// Snapshot copies documents and entities under a single read lock so the
// pending check and the export see the same statuses.
func (s *EntityStore) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		BatchID:   s.batchID,
		TakenAt:   time.Now().UTC(),
		Documents: make([]*model.Document, 0, len(s.docs)),
		Entities:  make([]*model.PIIEntity, 0, len(s.entities)),
	}
	for _, d := range s.docs {
		snap.Documents = append(snap.Documents, d.Clone())
	}
	for _, e := range s.entities {
		snap.Entities = append(snap.Entities, e.Clone())
	}
	return snap
}

// Restore replaces the store content with a snapshot
func (s *EntityStore) Restore(snap *Snapshot) int {
	s.Reset(snap.BatchID)
	s.AddDocuments(snap.Documents...)
	return s.AddEntities(snap.Entities)
}
