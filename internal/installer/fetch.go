package installer

import (
	"context"
	"crypto/sha1" //nolint:gosec // registries publish sha1 digests
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"blockyard/internal/domain"
	"blockyard/internal/util"
)

// Fetcher downloads a plugin archive to dst and verifies it against the
// descriptor's checksum.
type Fetcher interface {
	Fetch(ctx context.Context, d domain.PluginDescriptor, dst string) error
}

// HTTPFetcher downloads archives over HTTP with retries.
type HTTPFetcher struct {
	client *util.HTTPClient
	retry  util.RetryConfig
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher on client.
func NewHTTPFetcher(client *util.HTTPClient, retry util.RetryConfig) *HTTPFetcher {
	return &HTTPFetcher{client: client, retry: retry}
}

// Fetch streams the download into dst while hashing it. Each retry starts the
// file over.
func (f *HTTPFetcher) Fetch(ctx context.Context, d domain.PluginDescriptor, dst string) error {
	if d.DownloadURL == "" {
		return fmt.Errorf("%s has no download URL", d.Ref())
	}
	h, want, err := checksumHasher(d.Checksum)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o640) //nolint:gosec // staging path is ours
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	defer func() {
		_ = out.Close()
	}()

	err = util.WithRetry(ctx, f.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.DownloadURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer f.client.CloseResponseBody(resp.Body)

		if resp.StatusCode != http.StatusOK {
			return &domain.APIError{URL: d.DownloadURL, StatusCode: resp.StatusCode, Message: resp.Status}
		}
		if _, err := out.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		if err := out.Truncate(0); err != nil {
			return backoff.Permanent(err)
		}
		if h != nil {
			h.Reset()
		}
		var w io.Writer = out
		if h != nil {
			w = io.MultiWriter(out, h)
		}
		_, err = io.Copy(w, resp.Body)
		return err
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", d.DownloadURL, err)
	}
	if h == nil {
		return nil
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("%w: expected %s, got %s", domain.ErrChecksumMismatch, want, got)
	}
	return nil
}

// FileFetcher copies local archives. The descriptor's DownloadURL holds the
// source path.
type FileFetcher struct{}

var _ Fetcher = FileFetcher{}

// Fetch copies the archive to dst and verifies the descriptor's checksum.
func (FileFetcher) Fetch(ctx context.Context, d domain.PluginDescriptor, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(d.DownloadURL) //nolint:gosec // user-selected archive
	if err != nil {
		return fmt.Errorf("open %s: %w", d.DownloadURL, err)
	}
	defer func() {
		_ = in.Close()
	}()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec // staging path is ours
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", d.DownloadURL, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return VerifyFile(dst, d.Checksum)
}

// FileChecksum returns the "sha256:hex" digest of the file at path.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // caller-provided plugin path
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// checksumHasher parses an "algo:hex" checksum. An empty checksum yields a
// nil hasher and skips verification.
func checksumHasher(checksum string) (hash.Hash, string, error) {
	if checksum == "" {
		return nil, "", nil
	}
	algo, sum, ok := strings.Cut(checksum, ":")
	if !ok || sum == "" {
		return nil, "", fmt.Errorf("malformed checksum %q", checksum)
	}
	sum = strings.ToLower(sum)
	switch strings.ToLower(algo) {
	case "sha1":
		return sha1.New(), sum, nil //nolint:gosec // integrity check against published digest
	case "sha256":
		return sha256.New(), sum, nil
	case "sha512":
		return sha512.New(), sum, nil
	default:
		return nil, "", fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
}

// VerifyFile checks an existing file against an "algo:hex" checksum.
func VerifyFile(path, checksum string) error {
	h, want, err := checksumHasher(checksum)
	if err != nil || h == nil {
		return err
	}
	f, err := os.Open(path) //nolint:gosec // caller-provided plugin path
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("%w: expected %s, got %s", domain.ErrChecksumMismatch, want, got)
	}
	return nil
}
