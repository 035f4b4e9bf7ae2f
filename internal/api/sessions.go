package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Session holds one saved chat or query session for the web UI.
type Session struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Name      *string         `json:"name"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SessionListItem is a session without its content, for list responses.
type SessionListItem struct {
	ID            uuid.UUID `json:"id"`
	Type          string    `json:"type"`
	Name          *string   `json:"name"`
	ContentLength int       `json:"content_length"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type SessionListResponse struct {
	Sessions []SessionListItem `json:"sessions"`
	Total    int               `json:"total"`
	HasMore  bool              `json:"has_more"`
}

type SessionListWithContentResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"has_more"`
}

type CreateSessionRequest struct {
	ID      uuid.UUID       `json:"id"`
	Type    string          `json:"type"`
	Name    *string         `json:"name"`
	Content json.RawMessage `json:"content"`
}

type UpdateSessionRequest struct {
	Name    *string         `json:"name"`
	Content json.RawMessage `json:"content"`
}

type BatchGetSessionsRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

type BatchGetSessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

const sessionCleanupInterval = 10 * time.Minute

// SessionStore keeps sessions in memory with a TTL on inactivity. Sessions
// mirror browser state for cross-tab continuity; losing them on restart is
// acceptable.
type SessionStore struct {
	log *slog.Logger
	ttl time.Duration

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSessionStore(log *slog.Logger, ttl time.Duration) *SessionStore {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionStore{
		log:      log,
		ttl:      ttl,
		sessions: make(map[uuid.UUID]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the expiry cleanup loop.
func (s *SessionStore) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.purgeExpired()
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the cleanup loop and waits for it to exit.
func (s *SessionStore) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *SessionStore) purgeExpired() {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			purged++
		}
	}
	if purged > 0 {
		s.log.Info("api: purged expired sessions", "purged", purged, "remaining", len(s.sessions))
	}
}

// clone copies a session so callers never share memory with the store.
func (sess *Session) clone() *Session {
	c := *sess
	if sess.Name != nil {
		name := *sess.Name
		c.Name = &name
	}
	c.Content = append(json.RawMessage(nil), sess.Content...)
	return &c
}

// contentLength returns the number of messages in a session's content
// array, zero if the content is not an array.
func (sess *Session) contentLength() int {
	var items []json.RawMessage
	if err := json.Unmarshal(sess.Content, &items); err != nil {
		return 0
	}
	return len(items)
}

// List returns one page of sessions of the given type, newest first, plus
// the total count. Ordering uses id as a tiebreaker so pages are stable
// when timestamps collide.
func (s *SessionStore) List(sessionType string, limit, offset int) ([]*Session, int) {
	s.mu.RLock()
	matched := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.Type == sessionType {
			matched = append(matched, sess.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return strings.Compare(matched[i].ID.String(), matched[j].ID.String()) < 0
	})

	total := len(matched)
	if offset >= total {
		return []*Session{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total
}

// Get returns a copy of the session, if present.
func (s *SessionStore) Get(id uuid.UUID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// BatchGet returns copies of the requested sessions, newest first. Missing
// ids are skipped.
func (s *SessionStore) BatchGet(ids []uuid.UUID) []*Session {
	s.mu.RLock()
	matched := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.sessions[id]; ok {
			matched = append(matched, sess.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return strings.Compare(matched[i].ID.String(), matched[j].ID.String()) < 0
	})
	return matched
}

// Create stores a new session. Returns false if the id is already taken.
func (s *SessionStore) Create(id uuid.UUID, sessionType string, name *string, content json.RawMessage) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return nil, false
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        id,
		Type:      sessionType,
		Name:      name,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[id] = sess
	return sess.clone(), true
}

// Update replaces a session's name and content. Returns false if absent.
func (s *SessionStore) Update(id uuid.UUID, name *string, content json.RawMessage) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.Name = name
	sess.Content = content
	sess.UpdatedAt = time.Now().UTC()
	return sess.clone(), true
}

// Delete removes a session. Returns false if absent.
func (s *SessionStore) Delete(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessionType := r.URL.Query().Get("type")
	if sessionType != "chat" && sessionType != "query" {
		http.Error(w, "type query parameter must be 'chat' or 'query'", http.StatusBadRequest)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	includeContent := r.URL.Query().Get("include_content") == "true"

	page, total := s.sessions.List(sessionType, limit, offset)

	if includeContent {
		sessions := make([]Session, 0, len(page))
		for _, sess := range page {
			sessions = append(sessions, *sess)
		}
		s.writeJSON(w, SessionListWithContentResponse{
			Sessions: sessions,
			Total:    total,
			HasMore:  offset+len(sessions) < total,
		})
		return
	}

	items := make([]SessionListItem, 0, len(page))
	for _, sess := range page {
		items = append(items, SessionListItem{
			ID:            sess.ID,
			Type:          sess.Type,
			Name:          sess.Name,
			ContentLength: sess.contentLength(),
			CreatedAt:     sess.CreatedAt,
			UpdatedAt:     sess.UpdatedAt,
		})
	}
	s.writeJSON(w, SessionListResponse{
		Sessions: items,
		Total:    total,
		HasMore:  offset+len(items) < total,
	})
}

func (s *Server) batchGetSessionsHandler(w http.ResponseWriter, r *http.Request) {
	var req BatchGetSessionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.IDs) == 0 {
		s.writeJSON(w, BatchGetSessionsResponse{Sessions: []Session{}})
		return
	}

	// Cap at 50 IDs to prevent abuse
	if len(req.IDs) > 50 {
		req.IDs = req.IDs[:50]
	}

	matched := s.sessions.BatchGet(req.IDs)
	sessions := make([]Session, 0, len(matched))
	for _, sess := range matched {
		sessions = append(sessions, *sess)
	}
	s.writeJSON(w, BatchGetSessionsResponse{Sessions: sessions})
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.Get(id)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, sess)
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ID == uuid.Nil {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if req.Type != "chat" && req.Type != "query" {
		http.Error(w, "type must be 'chat' or 'query'", http.StatusBadRequest)
		return
	}
	if req.Content == nil {
		req.Content = json.RawMessage("[]")
	}

	sess, ok := s.sessions.Create(req.ID, req.Type, req.Name, req.Content)
	if !ok {
		http.Error(w, "Session already exists", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(sess); err != nil {
		s.log.Error("failed to write session response", "error", err)
	}
}

func (s *Server) updateSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == nil {
		req.Content = json.RawMessage("[]")
	}

	sess, ok := s.sessions.Update(id, req.Name, req.Content)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, sess)
}

func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	if !s.sessions.Delete(id) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
