// Package download fetches an execution's declared input files into its
// working directory. Internal files are retrieved by content checksum from
// the platform storage collaborator with tenant/user impersonation;
// external files are fetched from arbitrary URLs, optionally through a
// proxy with a non-proxy-host exception list.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/datalith/procflow/internal/model"
	"github.com/datalith/procflow/internal/process"
)

const (
	userAgent = "procflow/1.0"

	headerTenant = "X-Forwarded-Tenant"
	headerUser   = "X-Forwarded-User"

	// DefaultConnectTimeout bounds connection establishment for external
	// fetches of untrusted third-party URLs.
	DefaultConnectTimeout = 10 * time.Second
)

// Config holds the download routing settings.
type Config struct {
	// StorageEndpoint is the base URL of the internal storage collaborator.
	StorageEndpoint string
	// ProxyURL routes external downloads when set.
	ProxyURL string
	// NonProxyHosts lists hosts reached directly even when a proxy is
	// configured. An entry may be exact ("host.example.org") or a wildcard
	// suffix ("*.example.org").
	NonProxyHosts []string
	// ConnectTimeout bounds connection establishment; defaults to
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// Compile-time interface satisfaction check.
var _ process.Downloader = (*Service)(nil)

// Service downloads input files, branching on whether a file is internally
// addressed (checksum) or externally addressed (URL).
type Service struct {
	storageEndpoint string
	internal        *http.Client
	external        *http.Client
	logger          *slog.Logger
}

// New creates a download service from the given configuration.
func New(cfg Config, logger *slog.Logger) (*Service, error) {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: connectTimeout}

	var proxyURL *url.URL
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		proxyURL = u
	}

	external := &http.Client{
		Transport: &http.Transport{
			DialContext: dialer.DialContext,
			Proxy:       proxyFunc(proxyURL, cfg.NonProxyHosts),
		},
	}
	internal := &http.Client{
		Transport: &http.Transport{DialContext: dialer.DialContext},
	}

	return &Service{
		storageEndpoint: strings.TrimRight(cfg.StorageEndpoint, "/"),
		internal:        internal,
		external:        external,
		logger:          logger,
	}, nil
}

// Download fetches one input file to dest and returns the destination
// path. The parent directory is created if needed.
func (s *Service) Download(ctx context.Context, ec *process.Context, input model.FileInput, dest string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create destination directory: %w", err)
	}

	if input.Internal {
		return s.downloadInternal(ctx, ec, input, dest)
	}
	return s.downloadExternal(ctx, ec, input, dest)
}

// DownloadAll fetches every declared input of the execution into dir,
// named after the inputs, in parallel. The first failure cancels the
// remaining fetches.
func (s *Service) DownloadAll(ctx context.Context, ec *process.Context, dir string) ([]string, error) {
	inputs := ec.Execution.Inputs
	paths := make([]string, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	for i, input := range inputs {
		g.Go(func() error {
			path, err := s.Download(gctx, ec, input, filepath.Join(dir, input.Name))
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// downloadInternal retrieves a checksum-addressed file from the storage
// collaborator, impersonating the execution's tenant and acting user.
// Impersonation lives only in the request headers, so it is released with
// the request regardless of outcome.
func (s *Service) downloadInternal(ctx context.Context, ec *process.Context, input model.FileInput, dest string) (string, error) {
	exec := ec.Execution
	reqURL := s.storageEndpoint + "/files/" + url.PathEscape(input.Checksum)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", &InternalError{ExecutionID: exec.ID, Checksum: input.Checksum, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(headerTenant, exec.Tenant)
	req.Header.Set(headerUser, exec.User)

	resp, err := s.internal.Do(req)
	if err != nil {
		return "", &InternalError{ExecutionID: exec.ID, Checksum: input.Checksum, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &QuotaExceededError{ExecutionID: exec.ID, User: exec.User, Checksum: input.Checksum}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &InternalError{ExecutionID: exec.ID, Checksum: input.Checksum, StatusCode: resp.StatusCode}
	}

	written, err := writeTo(dest, resp.Body)
	if err != nil {
		return "", &InternalError{ExecutionID: exec.ID, Checksum: input.Checksum, Err: err}
	}

	downloadBytes.WithLabelValues(routeInternal).Add(float64(written))
	s.logger.Debug("internal download complete",
		"execution_id", exec.ID, "checksum", input.Checksum, "bytes", written)
	return dest, nil
}

// downloadExternal fetches an arbitrary URL, honoring the configured proxy
// and its exception list.
func (s *Service) downloadExternal(ctx context.Context, ec *process.Context, input model.FileInput, dest string) (string, error) {
	exec := ec.Execution

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.URL, nil)
	if err != nil {
		return "", &ExternalError{ExecutionID: exec.ID, URL: input.URL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.external.Do(req)
	if err != nil {
		return "", &ExternalError{ExecutionID: exec.ID, URL: input.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ExternalError{ExecutionID: exec.ID, URL: input.URL,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	written, err := writeTo(dest, resp.Body)
	if err != nil {
		return "", &ExternalError{ExecutionID: exec.ID, URL: input.URL, Err: err}
	}

	downloadBytes.WithLabelValues(routeExternal).Add(float64(written))
	s.logger.Debug("external download complete",
		"execution_id", exec.ID, "url", input.URL, "bytes", written)
	return dest, nil
}

// writeTo streams r into a freshly created file at dest. The file is only
// created after the response status has been accepted, so failed requests
// leave no bytes behind; a partial copy removes the file.
func writeTo(dest string, r io.Reader) (int64, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, err
	}
	return written, nil
}

// proxyFunc selects the proxy per request: nil for exempted hosts or when
// no proxy is configured.
func proxyFunc(proxyURL *url.URL, nonProxyHosts []string) func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		if proxyURL == nil {
			return nil, nil
		}
		if hostExempt(req.URL.Hostname(), nonProxyHosts) {
			return nil, nil
		}
		return proxyURL, nil
	}
}

// hostExempt reports whether host matches one of the non-proxy entries.
func hostExempt(host string, nonProxyHosts []string) bool {
	for _, entry := range nonProxyHosts {
		if suffix, ok := strings.CutPrefix(entry, "*."); ok {
			if strings.HasSuffix(host, "."+suffix) || host == suffix {
				return true
			}
			continue
		}
		if strings.EqualFold(host, entry) {
			return true
		}
	}
	return false
}
