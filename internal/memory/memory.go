// Package memory provides an in-process implementation of the repository
// interfaces. It backs ragd when STORE_BACKEND=memory and the service tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
)

// Store holds corpora, documents, chunks, and questions in memory.
type Store struct {
	mu        sync.RWMutex
	corpora   map[uuid.UUID]*repository.Corpus
	documents map[string]*repository.Document
	chunks    map[string]*repository.Chunk
	questions []*repository.Question
	last      time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		corpora:   make(map[uuid.UUID]*repository.Corpus),
		documents: make(map[string]*repository.Document),
		chunks:    make(map[string]*repository.Chunk),
	}
}

// Corpora returns the corpus repository view of the store.
func (s *Store) Corpora() *CorpusRepo { return &CorpusRepo{s: s} }

// Documents returns the document repository view of the store.
func (s *Store) Documents() *DocumentRepo { return &DocumentRepo{s: s} }

// Chunks returns the chunk repository view of the store.
func (s *Store) Chunks() *ChunkRepo { return &ChunkRepo{s: s} }

// Questions returns the question repository view of the store.
func (s *Store) Questions() *QuestionRepo { return &QuestionRepo{s: s} }

// Searcher returns the chunk search view of the store.
func (s *Store) Searcher() *Searcher { return &Searcher{s: s} }

// now returns a strictly increasing timestamp so recency order is stable.
// Callers must hold the write lock.
func (s *Store) now() time.Time {
	t := time.Now()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// CorpusRepo implements repository.CorpusRepository
type CorpusRepo struct{ s *Store }

// GetOrCreate returns the user's corpus with the given key, creating it when absent
func (r *CorpusRepo) GetOrCreate(_ context.Context, userID, key string) (*repository.Corpus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.corpora {
		if c.UserID == userID && c.Key == key {
			cp := *c
			return &cp, nil
		}
	}
	c := &repository.Corpus{ID: uuid.New(), UserID: userID, Key: key, CreatedAt: r.s.now()}
	r.s.corpora[c.ID] = c
	cp := *c
	return &cp, nil
}

// GetByKey returns the oldest corpus with the given key
func (r *CorpusRepo) GetByKey(_ context.Context, key string) (*repository.Corpus, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var found *repository.Corpus
	for _, c := range r.s.corpora {
		if c.Key == key && (found == nil || c.CreatedAt.Before(found.CreatedAt)) {
			found = c
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

// DocumentRepo implements repository.DocumentRepository
type DocumentRepo struct{ s *Store }

// Upsert inserts or replaces a document
func (r *DocumentRepo) Upsert(_ context.Context, doc *repository.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	stored := *doc
	stored.Tags = maps.Clone(doc.Tags)
	if existing, ok := r.s.documents[doc.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.s.documents[doc.ID] = &stored

	doc.CreatedAt, doc.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

// GetByID retrieves a document by ID
func (r *DocumentRepo) GetByID(_ context.Context, id string) (*repository.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	d, ok := r.s.documents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	cp.Tags = maps.Clone(d.Tags)
	return &cp, nil
}

// ListIDsByCorpus returns the IDs of every document in a corpus
func (r *DocumentRepo) ListIDsByCorpus(_ context.Context, corpusID uuid.UUID) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var ids []string
	for _, d := range r.s.documents {
		if d.CorpusID == corpusID {
			ids = append(ids, d.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ChunkRepo implements repository.ChunkRepository
type ChunkRepo struct{ s *Store }

// List returns chunks matching the filter ordered by document and index
func (r *ChunkRepo) List(_ context.Context, filter repository.ChunkFilter, limit int) ([]*repository.Chunk, error) {
	match, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.Chunk
	for _, c := range r.s.chunks {
		if match(c) {
			out = append(out, cloneChunk(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get retrieves a chunk by ID
func (r *ChunkRepo) Get(_ context.Context, id string) (*repository.Chunk, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.chunks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneChunk(c), nil
}

// Create stores a chunk and returns the stored copy
func (r *ChunkRepo) Create(_ context.Context, chunk *repository.Chunk) (*repository.Chunk, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := cloneChunk(chunk)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if _, exists := r.s.chunks[stored.ID]; exists {
		return nil, fmt.Errorf("failed to create chunk: duplicate id %s", stored.ID)
	}
	if r.indexTaken(stored.DocumentID, stored.ChunkIndex, "") {
		return nil, fmt.Errorf("failed to create chunk %d: %w", stored.ChunkIndex, repository.ErrDuplicateChunkIndex)
	}
	if stored.Metadata == nil {
		stored.Metadata = map[string]any{}
	}
	stored.CreatedAt = r.s.now()
	stored.UpdatedAt = stored.CreatedAt
	r.s.chunks[stored.ID] = stored
	return cloneChunk(stored), nil
}

// Update changes the given fields and returns the stored copy
func (r *ChunkRepo) Update(_ context.Context, id string, update repository.ChunkUpdate) (*repository.Chunk, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.chunks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if update.Empty() {
		return cloneChunk(c), nil
	}
	if update.ChunkIndex != nil {
		if r.indexTaken(c.DocumentID, *update.ChunkIndex, id) {
			return nil, fmt.Errorf("failed to update chunk %d: %w", *update.ChunkIndex, repository.ErrDuplicateChunkIndex)
		}
		c.ChunkIndex = *update.ChunkIndex
	}
	if update.Text != nil {
		c.Text = *update.Text
	}
	if update.Embedding != nil {
		c.Embedding = slices.Clone(update.Embedding)
	}
	if update.Metadata != nil {
		c.Metadata = maps.Clone(update.Metadata)
	}
	c.UpdatedAt = r.s.now()
	return cloneChunk(c), nil
}

// indexTaken reports whether another chunk of documentID holds index.
// Callers hold the store lock.
func (r *ChunkRepo) indexTaken(documentID string, index int, exceptID string) bool {
	for id, c := range r.s.chunks {
		if id != exceptID && c.DocumentID == documentID && c.ChunkIndex == index {
			return true
		}
	}
	return false
}

// Delete removes a chunk and reports whether it existed
func (r *ChunkRepo) Delete(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.chunks[id]; !ok {
		return false, nil
	}
	delete(r.s.chunks, id)
	return true, nil
}

// DeleteByDocument removes all chunks of a document
func (r *ChunkRepo) DeleteByDocument(_ context.Context, documentID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, c := range r.s.chunks {
		if c.DocumentID == documentID {
			delete(r.s.chunks, id)
			n++
		}
	}
	return n, nil
}

// ListMissingEmbedding returns the oldest chunks that have no embedding yet
func (r *ChunkRepo) ListMissingEmbedding(_ context.Context, limit int) ([]*repository.Chunk, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.Chunk
	for _, c := range r.s.chunks {
		if c.Embedding == nil {
			out = append(out, cloneChunk(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// QuestionRepo implements repository.QuestionRepository
type QuestionRepo struct{ s *Store }

// Create records a question
func (r *QuestionRepo) Create(_ context.Context, q *repository.Question) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	q.CreatedAt = r.s.now()
	stored := *q
	stored.Embedding = slices.Clone(q.Embedding)
	r.s.questions = append(r.s.questions, &stored)
	return nil
}

// TextForEmbedding returns the text of a question stored with exactly this embedding
func (r *QuestionRepo) TextForEmbedding(_ context.Context, embedding []float32) (string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, q := range r.s.questions {
		if slices.Equal(q.Embedding, embedding) {
			return q.Text, nil
		}
	}
	return "", repository.ErrNotFound
}

// Searcher implements repository.ChunkSearcher with exact cosine distance
type Searcher struct{ s *Store }

// Nearest returns chunks whose cosine distance is strictly below threshold, closest first
func (r *Searcher) Nearest(_ context.Context, documentIDs []string, vector []float32, threshold float64, topK int) ([]repository.ScoredChunk, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []repository.ScoredChunk
	for _, c := range r.s.chunks {
		if c.Embedding == nil || !slices.Contains(documentIDs, c.DocumentID) {
			continue
		}
		if len(c.Embedding) != len(vector) {
			return nil, fmt.Errorf("failed to run vector search: different vector dimensions %d and %d", len(c.Embedding), len(vector))
		}
		distance := CosineDistance(c.Embedding, vector)
		if distance < threshold {
			out = append(out, repository.ScoredChunk{Chunk: *cloneChunk(c), Score: distance})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	if topK >= 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Recent returns the most recently created chunks, each with the recency score
func (r *Searcher) Recent(_ context.Context, documentIDs []string, topK int) ([]repository.ScoredChunk, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []repository.ScoredChunk
	for _, c := range r.s.chunks {
		if slices.Contains(documentIDs, c.DocumentID) {
			out = append(out, repository.ScoredChunk{Chunk: *cloneChunk(c), Score: RecencyScore})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	if topK >= 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// RecencyScore is the neutral raw score given to chunks found by recency.
const RecencyScore = 0.5

// CosineDistance returns 1 - cos(a, b). A zero vector is at distance 1.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// compileFilter turns the allow-listed filter keys into a predicate.
// Unknown keys are dropped.
func compileFilter(filter repository.ChunkFilter) (func(*repository.Chunk) bool, error) {
	var preds []func(*repository.Chunk) bool

	for _, key := range repository.ChunkFilterFields {
		value, ok := filter[key]
		if !ok {
			continue
		}
		switch key {
		case "chunk_id":
			want := fmt.Sprint(value)
			preds = append(preds, func(c *repository.Chunk) bool { return c.ID == want })
		case "document_id":
			want := fmt.Sprint(value)
			preds = append(preds, func(c *repository.Chunk) bool { return c.DocumentID == want })
		case "chunk_text":
			want := fmt.Sprint(value)
			preds = append(preds, func(c *repository.Chunk) bool { return c.Text == want })
		case "chunk_index":
			want, err := toInt(value)
			if err != nil {
				return nil, fmt.Errorf("invalid chunk_index filter: %w", err)
			}
			preds = append(preds, func(c *repository.Chunk) bool { return c.ChunkIndex == want })
		case "metadata":
			want, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("invalid metadata filter: expected an object, got %T", value)
			}
			preds = append(preds, func(c *repository.Chunk) bool { return containsJSON(c.Metadata, want) })
		}
	}

	return func(c *repository.Chunk) bool {
		for _, p := range preds {
			if !p(c) {
				return false
			}
		}
		return true
	}, nil
}

// containsJSON reports whether every top-level key of want is present in have
// with an equal JSON value.
func containsJSON(have, want map[string]any) bool {
	for k, w := range want {
		h, ok := have[k]
		if !ok {
			return false
		}
		hb, err1 := json.Marshal(h)
		wb, err2 := json.Marshal(w)
		if err1 != nil || err2 != nil || string(hb) != string(wb) {
			return false
		}
	}
	return true
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func cloneChunk(c *repository.Chunk) *repository.Chunk {
	cp := *c
	cp.Embedding = slices.Clone(c.Embedding)
	cp.Metadata = maps.Clone(c.Metadata)
	return &cp
}

// Ensure the views implement the repository interfaces
var (
	_ repository.CorpusRepository   = (*CorpusRepo)(nil)
	_ repository.DocumentRepository = (*DocumentRepo)(nil)
	_ repository.ChunkRepository    = (*ChunkRepo)(nil)
	_ repository.QuestionRepository = (*QuestionRepo)(nil)
	_ repository.ChunkSearcher      = (*Searcher)(nil)
)
