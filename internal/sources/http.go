// Package sources implements the HTTP adapters for the CL and TS vehicle
// data backends.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bilregistret/internal/backends"
	"bilregistret/internal/config"
	"bilregistret/internal/errors"
	"bilregistret/internal/logging"
	"bilregistret/internal/records"
	"bilregistret/internal/version"
)

// DefaultMaxBodySize caps how much of a response body is read
const DefaultMaxBodySize = 4 << 20

// PlatePlaceholder is replaced by the escaped plate in path templates
const PlatePlaceholder = "{plate}"

// HTTPSource fetches vehicle records from one JSON HTTP backend.
type HTTPSource struct {
	id     backends.SourceID
	cfg    config.SourceConfig
	client *http.Client
	logger *logging.Logger
}

// NewHTTPSource creates a source for id. Deadlines come from the caller's
// context, so client may be nil.
func NewHTTPSource(id backends.SourceID, cfg config.SourceConfig, client *http.Client, logger *logging.Logger) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, errors.NewLookupError(errors.InvalidArgument, fmt.Sprintf("source %s has no base URL", id), nil)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.NewLookupError(errors.InvalidArgument, fmt.Sprintf("source %s base URL", id), err)
	}
	if !strings.Contains(cfg.PathTemplate, PlatePlaceholder) {
		return nil, errors.NewLookupError(errors.InvalidArgument, fmt.Sprintf("source %s path template lacks %s", id, PlatePlaceholder), nil)
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HTTPSource{id: id, cfg: cfg, client: client, logger: logger}, nil
}

// FromConfig builds the CL and TS sources.
func FromConfig(cfg *config.Config, logger *logging.Logger) (cl, ts *HTTPSource, err error) {
	cl, err = NewHTTPSource(backends.SourceCL, cfg.Sources.CL, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	ts, err = NewHTTPSource(backends.SourceTS, cfg.Sources.TS, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	return cl, ts, nil
}

// ID implements backends.Source
func (s *HTTPSource) ID() backends.SourceID {
	return s.id
}

// URL returns the request URL for key
func (s *HTTPSource) URL(key records.VehicleKey) string {
	path := strings.ReplaceAll(s.cfg.PathTemplate, PlatePlaceholder, url.PathEscape(key.String()))
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Fetch implements backends.Source. There are no retries; callers refresh.
func (s *HTTPSource) Fetch(ctx context.Context, key records.VehicleKey) (records.SourceRecord, error) {
	start := time.Now()
	source := string(s.id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(key), nil)
	if err != nil {
		return records.SourceRecord{}, errors.NewLookupError(errors.InternalError, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "bilregistret/"+version.Version)
	if s.cfg.APIKey != "" {
		header := s.cfg.APIKeyHeader
		if header == "" {
			header = "X-Api-Key"
		}
		req.Header.Set(header, s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return records.SourceRecord{}, ctx.Err()
		}
		return records.SourceRecord{}, errors.NewNetworkFailure(source, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return records.SourceRecord{}, ctx.Err()
		}
		return records.SourceRecord{}, errors.NewNetworkFailure(source, fmt.Errorf("failed to read response: %w", err))
	}

	s.logger.Debug("Source responded", map[string]interface{}{
		"source":     source,
		"plate":      key.String(),
		"status":     resp.StatusCode,
		"bytes":      len(body),
		"durationMs": time.Since(start).Milliseconds(),
	})

	if err := statusError(source, key, resp.StatusCode); err != nil {
		return records.SourceRecord{}, err
	}

	rec, err := records.DecodeSourceRecord(body)
	if err != nil {
		return records.SourceRecord{}, errors.NewMalformed(source, err)
	}
	return rec, nil
}

// statusError maps a non-2xx status to its error kind.
func statusError(source string, key records.VehicleKey, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return errors.NewNotFound(source, key.String())
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.NewUnauthorized(source, status)
	default:
		le := errors.NewNetworkFailure(source, fmt.Errorf("unexpected status %d", status))
		le.Status = status
		return le
	}
}
