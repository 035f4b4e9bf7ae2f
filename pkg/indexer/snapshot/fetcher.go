// Package snapshot moves warehouse files between environments. The fetcher
// bootstraps a local warehouse from a published snapshot so a query surface
// can start without crawling the portal; the publisher uploads a built
// warehouse to S3-compatible storage.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type FetcherConfig struct {
	Logger *slog.Logger

	// URL of the snapshot file. A sha256sum-format checksum published at
	// URL + ".sha256" is verified when present.
	URL string

	// DestPath is where the snapshot lands. An existing file is kept as is.
	DestPath string

	HTTPClient *http.Client
}

func (cfg *FetcherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.URL == "" {
		return errors.New("url is required")
	}
	if cfg.DestPath == "" {
		return errors.New("destination path is required")
	}

	// Optional with default
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return nil
}

type Fetcher struct {
	log *slog.Logger
	cfg FetcherConfig
}

func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Fetcher{log: cfg.Logger, cfg: cfg}, nil
}

// Fetch downloads the snapshot unless DestPath already exists. The body goes
// to a temp file next to the destination and is renamed into place only
// after the published checksum, if any, matches.
func (f *Fetcher) Fetch(ctx context.Context) error {
	if _, err := os.Stat(f.cfg.DestPath); err == nil {
		f.log.Info("snapshot: destination already exists, skipping download", "path", f.cfg.DestPath)
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat destination: %w", err)
	}

	expectedSum, err := f.fetchChecksum(ctx)
	if err != nil {
		return err
	}
	if expectedSum == "" {
		f.log.Warn("snapshot: no checksum published, downloading unverified", "url", f.cfg.URL)
	}

	attempt := 0
	size, err := backoff.Retry(ctx, func() (int64, error) {
		if attempt > 0 {
			f.log.Warn("snapshot: download failed, retrying", "attempt", attempt)
		}
		attempt++
		return f.download(ctx, expectedSum)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		return fmt.Errorf("failed to download snapshot: %w", err)
	}

	f.log.Info("snapshot: download complete", "path", f.cfg.DestPath, "bytes", size)
	return nil
}

// fetchChecksum retrieves the expected checksum, or "" when none is
// published. The file follows the sha256sum format: hex digest, whitespace,
// file name.
func (f *Fetcher) fetchChecksum(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL+".sha256", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create checksum request: %w", err)
	}

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch checksum: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("checksum fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", fmt.Errorf("failed to read checksum: %w", err)
	}
	fields := strings.Fields(string(body))
	if len(fields) == 0 {
		return "", fmt.Errorf("checksum file is empty")
	}
	sum := strings.ToLower(fields[0])
	if len(sum) != sha256.Size*2 {
		return "", fmt.Errorf("malformed checksum %q", fields[0])
	}
	return sum, nil
}

func (f *Fetcher) download(ctx context.Context, expectedSum string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("snapshot fetch returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(f.cfg.DestPath), 0o755); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to create destination directory: %w", err))
	}

	// Download into a temp file in the destination directory so the final
	// rename stays on one filesystem.
	tmp, err := os.CreateTemp(filepath.Dir(f.cfg.DestPath), ".snapshot-*")
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to create temp file: %w", err))
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if expectedSum != "" {
		actualSum := hex.EncodeToString(hasher.Sum(nil))
		if actualSum != expectedSum {
			return 0, backoff.Permanent(fmt.Errorf("checksum mismatch: expected %s, got %s", expectedSum, actualSum))
		}
	}

	if err := os.Rename(tmp.Name(), f.cfg.DestPath); err != nil {
		return 0, fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return size, nil
}
