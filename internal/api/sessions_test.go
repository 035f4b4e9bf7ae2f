package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSessionStore(t *testing.T) {
	t.Parallel()

	t.Run("returns copies, not shared memory", func(t *testing.T) {
		store := NewSessionStore(testLogger(), time.Hour)
		id := uuid.New()
		name := "votações"

		created, ok := store.Create(id, "chat", &name, json.RawMessage(`["a"]`))
		require.True(t, ok)

		created.Content[2] = 'X'
		*created.Name = "mutated"

		got, ok := store.Get(id)
		require.True(t, ok)
		require.JSONEq(t, `["a"]`, string(got.Content))
		require.Equal(t, "votações", *got.Name)
	})

	t.Run("rejects duplicate ids", func(t *testing.T) {
		store := NewSessionStore(testLogger(), time.Hour)
		id := uuid.New()

		_, ok := store.Create(id, "chat", nil, json.RawMessage(`[]`))
		require.True(t, ok)
		_, ok = store.Create(id, "chat", nil, json.RawMessage(`[]`))
		require.False(t, ok)
	})

	t.Run("update replaces content and bumps the timestamp", func(t *testing.T) {
		store := NewSessionStore(testLogger(), time.Hour)
		id := uuid.New()

		created, ok := store.Create(id, "query", nil, json.RawMessage(`[]`))
		require.True(t, ok)

		name := "consultas"
		updated, ok := store.Update(id, &name, json.RawMessage(`["q1"]`))
		require.True(t, ok)
		require.Equal(t, "consultas", *updated.Name)
		require.JSONEq(t, `["q1"]`, string(updated.Content))
		require.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

		_, ok = store.Update(uuid.New(), nil, json.RawMessage(`[]`))
		require.False(t, ok)
	})

	t.Run("delete reports absence", func(t *testing.T) {
		store := NewSessionStore(testLogger(), time.Hour)
		id := uuid.New()

		_, ok := store.Create(id, "chat", nil, json.RawMessage(`[]`))
		require.True(t, ok)
		require.True(t, store.Delete(id))
		require.False(t, store.Delete(id))
	})

	t.Run("lists newest first with a stable tiebreaker", func(t *testing.T) {
		store := NewSessionStore(testLogger(), time.Hour)
		base := time.Now().UTC()

		oldest := uuid.New()
		tied1 := uuid.New()
		tied2 := uuid.New()
		for _, id := range []uuid.UUID{oldest, tied1, tied2} {
			_, ok := store.Create(id, "chat", nil, json.RawMessage(`[]`))
			require.True(t, ok)
		}
		store.sessions[oldest].UpdatedAt = base.Add(-time.Hour)
		store.sessions[tied1].UpdatedAt = base
		store.sessions[tied2].UpdatedAt = base

		page, total := store.List("chat", 10, 0)
		require.Equal(t, 3, total)
		require.Len(t, page, 3)
		require.Equal(t, oldest, page[2].ID)
		// The tied pair sorts by id
		if tied1.String() < tied2.String() {
			require.Equal(t, []uuid.UUID{tied1, tied2}, []uuid.UUID{page[0].ID, page[1].ID})
		} else {
			require.Equal(t, []uuid.UUID{tied2, tied1}, []uuid.UUID{page[0].ID, page[1].ID})
		}
	})

	t.Run("paginates past the end", func(t *testing.T) {
		store := NewSessionStore(testLogger(), time.Hour)
		for range 3 {
			_, ok := store.Create(uuid.New(), "chat", nil, json.RawMessage(`[]`))
			require.True(t, ok)
		}

		page, total := store.List("chat", 2, 0)
		require.Equal(t, 3, total)
		require.Len(t, page, 2)

		page, _ = store.List("chat", 2, 2)
		require.Len(t, page, 1)

		page, _ = store.List("chat", 2, 5)
		require.Empty(t, page)
	})

	t.Run("purges only expired sessions", func(t *testing.T) {
		store := NewSessionStore(testLogger(), time.Hour)
		fresh := uuid.New()
		expired := uuid.New()
		for _, id := range []uuid.UUID{fresh, expired} {
			_, ok := store.Create(id, "chat", nil, json.RawMessage(`[]`))
			require.True(t, ok)
		}
		store.sessions[expired].UpdatedAt = time.Now().Add(-2 * time.Hour)

		store.purgeExpired()
		require.Equal(t, 1, store.Len())
		_, ok := store.Get(fresh)
		require.True(t, ok)
	})
}

func TestAPISessionHandlers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates and fetches a session", func(t *testing.T) {
		srv := testServer(t, ctx, testWarehouse(t, ctx))
		id := uuid.New()
		name := "votações de 2024"
		content := json.RawMessage(`[{"role":"user","content":"oi"}]`)

		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions",
			CreateSessionRequest{ID: id, Type: "chat", Name: &name, Content: content})
		require.Equal(t, http.StatusCreated, rec.Code)

		var created Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		require.Equal(t, id, created.ID)
		require.Equal(t, "chat", created.Type)
		require.Equal(t, name, *created.Name)
		require.JSONEq(t, string(content), string(created.Content))

		rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions/"+id.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var fetched Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
		require.Equal(t, created.ID, fetched.ID)
		require.JSONEq(t, string(content), string(fetched.Content))
	})

	t.Run("rejects duplicate creation", func(t *testing.T) {
		srv := testServer(t, ctx, testWarehouse(t, ctx))
		req := CreateSessionRequest{ID: uuid.New(), Type: "query"}

		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions", req)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions", req)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("validates the create request", func(t *testing.T) {
		srv := testServer(t, ctx, testWarehouse(t, ctx))

		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions",
			CreateSessionRequest{Type: "chat"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions",
			CreateSessionRequest{ID: uuid.New(), Type: "notebook"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("lists sessions by type with paging", func(t *testing.T) {
		srv := testServer(t, ctx, testWarehouse(t, ctx))
		for range 3 {
			rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions",
				CreateSessionRequest{ID: uuid.New(), Type: "chat", Content: json.RawMessage(`["m1","m2"]`)})
			require.Equal(t, http.StatusCreated, rec.Code)
		}
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions",
			CreateSessionRequest{ID: uuid.New(), Type: "query"})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions?type=chat&limit=2", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var list SessionListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Equal(t, 3, list.Total)
		require.Len(t, list.Sessions, 2)
		require.True(t, list.HasMore)
		require.Equal(t, 2, list.Sessions[0].ContentLength)

		rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions?type=chat&limit=2&offset=2", nil)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list.Sessions, 1)
		require.False(t, list.HasMore)

		rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions?type=query", nil)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Equal(t, 1, list.Total)
	})

	t.Run("lists with content when asked", func(t *testing.T) {
		srv := testServer(t, ctx, testWarehouse(t, ctx))
		content := json.RawMessage(`[{"sql":"SELECT 1"}]`)
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions",
			CreateSessionRequest{ID: uuid.New(), Type: "query", Content: content})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions?type=query&include_content=true", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var list SessionListWithContentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list.Sessions, 1)
		require.JSONEq(t, string(content), string(list.Sessions[0].Content))
	})

	t.Run("requires a known type on list", func(t *testing.T) {
		srv := testServer(t, ctx, testWarehouse(t, ctx))

		for _, path := range []string{"/api/sessions", "/api/sessions?type=notebook"} {
			rec := doJSON(t, srv.Handler(), http.MethodGet, path, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("batch returns only known sessions", func(t *testing.T) {
		srv := testServer(t, ctx, testWarehouse(t, ctx))
		known := uuid.New()
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions",
			CreateSessionRequest{ID: known, Type: "chat"})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions/batch",
			BatchGetSessionsRequest{IDs: []uuid.UUID{known, uuid.New()}})
		require.Equal(t, http.StatusOK, rec.Code)

		var batch BatchGetSessionsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
		require.Len(t, batch.Sessions, 1)
		require.Equal(t, known, batch.Sessions[0].ID)

		rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions/batch",
			BatchGetSessionsRequest{})
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
		require.Empty(t, batch.Sessions)
	})

	t.Run("updates a session", func(t *testing.T) {
		srv := testServer(t, ctx, testWarehouse(t, ctx))
		id := uuid.New()
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions",
			CreateSessionRequest{ID: id, Type: "chat"})
		require.Equal(t, http.StatusCreated, rec.Code)

		name := "renomeada"
		rec = doJSON(t, srv.Handler(), http.MethodPut, "/api/sessions/"+id.String(),
			UpdateSessionRequest{Name: &name, Content: json.RawMessage(`["novo"]`)})
		require.Equal(t, http.StatusOK, rec.Code)

		var updated Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
		require.Equal(t, "renomeada", *updated.Name)
		require.JSONEq(t, `["novo"]`, string(updated.Content))

		rec = doJSON(t, srv.Handler(), http.MethodPut, "/api/sessions/"+uuid.NewString(),
			UpdateSessionRequest{})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("deletes a session", func(t *testing.T) {
		srv := testServer(t, ctx, testWarehouse(t, ctx))
		id := uuid.New()
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions",
			CreateSessionRequest{ID: id, Type: "chat"})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = doJSON(t, srv.Handler(), http.MethodDelete, "/api/sessions/"+id.String(), nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions/"+id.String(), nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		rec = doJSON(t, srv.Handler(), http.MethodDelete, "/api/sessions/"+id.String(), nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rejects malformed session ids", func(t *testing.T) {
		srv := testServer(t, ctx, testWarehouse(t, ctx))

		rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions/not-a-uuid", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, srv.Handler(), http.MethodDelete, "/api/sessions/not-a-uuid", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
