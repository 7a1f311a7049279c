package results

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tyler180/quiz-results/internal/model"
)

// DefaultBaseURL is formatted with the city slug.
const DefaultBaseURL = "https://%s.quizplease.ru/game-page"

const defaultUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// TransportConfig controls how result pages are fetched. The result sites
// serve broken certificate chains, so InsecureSkipVerify is on by default.
type TransportConfig struct {
	InsecureSkipVerify bool
	Timeout            time.Duration
	UserAgent          string
	MaxAttempts        int
	RetryBase          time.Duration
	RetryMax           time.Duration
	// BaseURL is a fmt template taking the city slug.
	BaseURL string
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		InsecureSkipVerify: true,
		Timeout:            30 * time.Second,
		UserAgent:          defaultUA,
		MaxAttempts:        4,
		RetryBase:          400 * time.Millisecond,
		RetryMax:           6 * time.Second,
		BaseURL:            DefaultBaseURL,
	}
}

// PageFetcher returns the raw HTML of a game's results page.
type PageFetcher interface {
	FetchGamePage(ctx context.Context, city model.City, gameID int) (string, error)
}

type Fetcher struct {
	cfg    TransportConfig
	client *http.Client
}

func NewFetcher(cfg TransportConfig) *Fetcher {
	def := DefaultTransportConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = def.RetryMax
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: tr},
	}
}

// GameURL builds the results page URL of a game.
func (f *Fetcher) GameURL(city model.City, gameID int) string {
	base := fmt.Sprintf(f.cfg.BaseURL, city.Slug)
	q := url.Values{}
	q.Set("id", strconv.Itoa(gameID))
	return base + "?" + q.Encode()
}

func (f *Fetcher) FetchGamePage(ctx context.Context, city model.City, gameID int) (string, error) {
	return f.getWithRetry(ctx, f.GameURL(city, gameID))
}

// getWithRetry retries on transport errors, 429 and 5xx.
// Respects Retry-After when present.
func (f *Fetcher) getWithRetry(ctx context.Context, u string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, f.wait(attempt-1, lastErr)); err != nil {
				return "", err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("User-Agent", f.cfg.UserAgent)
		req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.8")

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}

		b, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				lastErr = readErr
				continue
			}
			return string(b), nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = &statusError{code: resp.StatusCode, url: u, retryAfter: f.retryAfter(resp.Header.Get("Retry-After"))}
			continue
		default:
			// Non-retryable
			return "", &statusError{code: resp.StatusCode, url: u}
		}
	}
	return "", fmt.Errorf("exhausted %d attempts for %s: %w", f.cfg.MaxAttempts, u, lastErr)
}

type statusError struct {
	code       int
	url        string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d for %s", e.code, e.url)
}

// wait picks the pause before retry attempt+1: the server's Retry-After when
// it sent one, otherwise jittered exponential backoff. Both are capped at
// RetryMax.
func (f *Fetcher) wait(attempt int, lastErr error) time.Duration {
	var se *statusError
	if errors.As(lastErr, &se) && se.retryAfter > 0 {
		return min(se.retryAfter, f.cfg.RetryMax)
	}
	d := f.cfg.RetryBase<<attempt + time.Duration(rand.Int63n(int64(f.cfg.RetryBase)/2+1))
	return min(d, f.cfg.RetryMax)
}

// retryAfter reads a Retry-After header in delay-seconds or HTTP-date form.
// Missing, malformed or past values yield 0.
func (f *Fetcher) retryAfter(h string) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if at, err := http.ParseTime(h); err == nil {
		return max(time.Until(at), 0)
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
