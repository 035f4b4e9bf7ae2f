package snapshot

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSnapshotServer(t *testing.T, body []byte, checksum string, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/almg.db":
			hits.Add(1)
			_, _ = w.Write(body)
		case "/almg.db.sha256":
			if checksum == "" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprintln(w, checksum)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetcherFetch(t *testing.T) {
	t.Parallel()

	t.Run("downloads and verifies the snapshot", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		body := []byte("warehouse bytes")
		sum := sha256.Sum256(body)
		var hits atomic.Int64
		srv := testSnapshotServer(t, body, fmt.Sprintf("%x  almg.db", sum), &hits)

		dest := filepath.Join(t.TempDir(), "almg.db")
		fetcher, err := NewFetcher(FetcherConfig{
			Logger:   testLogger(),
			URL:      srv.URL + "/almg.db",
			DestPath: dest,
		})
		require.NoError(t, err)

		require.NoError(t, fetcher.Fetch(ctx))

		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, body, got)
		require.Equal(t, int64(1), hits.Load())
	})

	t.Run("keeps an existing destination", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		var hits atomic.Int64
		srv := testSnapshotServer(t, []byte("remote"), "", &hits)

		dest := filepath.Join(t.TempDir(), "almg.db")
		require.NoError(t, os.WriteFile(dest, []byte("local"), 0o644))

		fetcher, err := NewFetcher(FetcherConfig{
			Logger:   testLogger(),
			URL:      srv.URL + "/almg.db",
			DestPath: dest,
		})
		require.NoError(t, err)

		require.NoError(t, fetcher.Fetch(ctx))

		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, []byte("local"), got)
		require.Equal(t, int64(0), hits.Load())
	})

	t.Run("downloads unverified when no checksum is published", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		body := []byte("warehouse bytes")
		var hits atomic.Int64
		srv := testSnapshotServer(t, body, "", &hits)

		dest := filepath.Join(t.TempDir(), "almg.db")
		fetcher, err := NewFetcher(FetcherConfig{
			Logger:   testLogger(),
			URL:      srv.URL + "/almg.db",
			DestPath: dest,
		})
		require.NoError(t, err)

		require.NoError(t, fetcher.Fetch(ctx))

		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, body, got)
	})

	t.Run("rejects a checksum mismatch and leaves no file behind", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		var hits atomic.Int64
		wrongSum := sha256.Sum256([]byte("something else"))
		srv := testSnapshotServer(t, []byte("warehouse bytes"), fmt.Sprintf("%x  almg.db", wrongSum), &hits)

		dir := t.TempDir()
		dest := filepath.Join(dir, "almg.db")
		fetcher, err := NewFetcher(FetcherConfig{
			Logger:   testLogger(),
			URL:      srv.URL + "/almg.db",
			DestPath: dest,
		})
		require.NoError(t, err)

		err = fetcher.Fetch(ctx)
		require.Error(t, err)
		require.Contains(t, err.Error(), "checksum mismatch")
		require.NoFileExists(t, dest)

		// The mismatch is permanent; the download must not have been retried.
		require.Equal(t, int64(1), hits.Load())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries, "temp files should be cleaned up")
	})

	t.Run("rejects a malformed checksum file", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		var hits atomic.Int64
		srv := testSnapshotServer(t, []byte("warehouse bytes"), "not-a-digest", &hits)

		fetcher, err := NewFetcher(FetcherConfig{
			Logger:   testLogger(),
			URL:      srv.URL + "/almg.db",
			DestPath: filepath.Join(t.TempDir(), "almg.db"),
		})
		require.NoError(t, err)

		err = fetcher.Fetch(ctx)
		require.Error(t, err)
		require.Contains(t, err.Error(), "malformed checksum")
	})
}
