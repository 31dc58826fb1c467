package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/searchdata"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/resilience"
)

// maxFragmentBytes caps the size of a fetched fragment.
const maxFragmentBytes = 64 << 20

// HTTPSource fetches one search data fragment with GET. Transport errors and
// 5xx responses are retried; 4xx responses and undecodable bodies are
// returned as permanent failures.
type HTTPSource struct {
	URL     string
	Client  *http.Client
	Retry   resilience.RetryConfig
	Breaker *resilience.CircuitBreaker
}

func (s *HTTPSource) Records(ctx context.Context) ([]symbolindex.RawRecord, error) {
	var (
		records   []symbolindex.RawRecord
		permanent bool
	)
	err := resilience.Retry(ctx, "fetch "+s.URL, s.Retry, func() error {
		fetch := func() error {
			recs, err := s.fetch(ctx)
			if err != nil {
				return err
			}
			records = recs
			return nil
		}
		var err error
		if s.Breaker != nil {
			err = s.Breaker.Execute(fetch)
		} else {
			err = fetch()
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			permanent = true
			return resilience.Permanent(fmt.Errorf("%w: %w", apperrors.ErrSourceUnavailable, err))
		}
		permanent = resilience.IsPermanent(err)
		return err
	})
	if err != nil {
		if permanent {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}
	return records, nil
}

func (s *HTTPSource) fetch(ctx context.Context) ([]symbolindex.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err))
	}
	req.Header.Set("Accept", "application/javascript, application/json, text/plain")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", apperrors.ErrSourceUnavailable, s.URL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: GET %s: %s", apperrors.ErrSourceUnavailable, s.URL, resp.Status)
	case resp.StatusCode >= 300:
		return nil, resilience.Permanent(fmt.Errorf("%w: GET %s: %s", apperrors.ErrSourceUnavailable, s.URL, resp.Status))
	}

	recs, err := searchdata.Decode(io.LimitReader(resp.Body, maxFragmentBytes))
	if err != nil {
		if errors.Is(err, apperrors.ErrFormat) {
			return nil, resilience.Permanent(fmt.Errorf("GET %s: %w", s.URL, err))
		}
		return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrSourceUnavailable, s.URL, err)
	}
	return recs, nil
}
