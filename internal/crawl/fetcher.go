package crawl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Fetcher retrieves a page over plain HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// FetcherConfig holds the HTTP fetch settings.
type FetcherConfig struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int
}

// CollyFetcher implements Fetcher on a colly collector. The base collector
// holds the shared transport; each Fetch clones it so callbacks never leak
// between requests.
type CollyFetcher struct {
	base   *colly.Collector
	cfg    FetcherConfig
	logger *zap.Logger
}

// NewCollyFetcher constructs a configured colly-based Fetcher.
func NewCollyFetcher(cfg FetcherConfig, logger *zap.Logger) *CollyFetcher {
	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	base.AllowURLRevisit = true
	if cfg.MaxBodyBytes > 0 {
		base.MaxBodySize = cfg.MaxBodyBytes
	}
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	if cfg.Timeout > 0 {
		base.SetRequestTimeout(cfg.Timeout)
	}
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 10
	}
	base.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	})

	return &CollyFetcher{base: base, cfg: cfg, logger: logger}
}

// Fetch retrieves rawURL and classifies failures as transient or permanent.
// Responses that are not HTML or plain text fail permanently.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	collector := f.base.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		contentType := ""
		headers := http.Header{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				cp := make([]string, len(v))
				copy(cp, v)
				headers[k] = cp
			}
			contentType = r.Headers.Get("Content-Type")
		}
		if !indexableContentType(contentType) {
			send(fetchResult{err: permanentErr(rawURL, r.StatusCode,
				fmt.Errorf("unsupported content type %q", contentType))})
			return
		}
		send(fetchResult{page: Page{
			URL:         rawURL,
			FinalURL:    r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Headers:     headers,
			Body:        append([]byte{}, r.Body...),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		send(fetchResult{err: classifyFetchErr(rawURL, status, err)})
	})

	if err := collector.Visit(rawURL); err != nil {
		return Page{}, classifyFetchErr(rawURL, 0, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		return res.page, res.err
	default:
		return Page{}, transientErr(rawURL, 0, errors.New("fetch produced no result"))
	}
}

type fetchResult struct {
	page Page
	err  error
}

// classifyFetchErr maps an HTTP status or transport error onto the
// transient/permanent split: 5xx and network failures retry, 4xx do not.
func classifyFetchErr(rawURL string, status int, err error) *FetchError {
	switch {
	case status >= 500:
		return transientErr(rawURL, status, err)
	case status >= 400:
		return permanentErr(rawURL, status, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transientErr(rawURL, status, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transientErr(rawURL, status, err)
	}
	// Remaining transport-level failures (refused connections, resets, DNS
	// hiccups) are assumed recoverable.
	return transientErr(rawURL, status, err)
}

func indexableContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	if ct == "" {
		// Servers that omit the header almost always serve HTML.
		return true
	}
	return strings.Contains(ct, "text/html") ||
		strings.Contains(ct, "application/xhtml") ||
		strings.Contains(ct, "text/plain")
}
