package crawl

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sitesage/sitesage/internal/clock"
	"github.com/sitesage/sitesage/internal/hash/sha256"
	"github.com/sitesage/sitesage/internal/index"
	"github.com/sitesage/sitesage/internal/metrics"
	"github.com/sitesage/sitesage/internal/retry"
)

// Sink receives the extracted content of each crawled page. It returns the
// number of fragments made searchable.
type Sink interface {
	IndexPage(ctx context.Context, namespace, pageURL, title, text string) (int, error)
}

// CrawlerConfig holds the per-crawl settings shared by all jobs.
type CrawlerConfig struct {
	Concurrency int
	MaxDepth    int
	MaxPages    int
}

// Crawler runs crawl jobs: BFS over the frontier with a bounded worker pool,
// fetching politely, promoting JS-shell pages to the renderer, extracting
// text, and handing each page to the sink.
type Crawler struct {
	cfg       CrawlerConfig
	fetcher   Fetcher
	renderer  Renderer // nil when headless rendering is disabled
	detector  *HeuristicDetector
	extractor *Extractor
	limiter   *HostLimiter
	sink      Sink
	jobs      *JobStore
	retry     retry.Policy
	clock     clock.Clock
	logger    *zap.Logger
}

// NewCrawler wires a Crawler from its collaborators. renderer may be nil.
func NewCrawler(
	cfg CrawlerConfig,
	fetcher Fetcher,
	renderer Renderer,
	detector *HeuristicDetector,
	limiter *HostLimiter,
	sink Sink,
	jobs *JobStore,
	clk clock.Clock,
	logger *zap.Logger,
) *Crawler {
	pol := retry.Default()
	pol.Retryable = IsTransient
	return &Crawler{
		cfg:       cfg,
		fetcher:   fetcher,
		renderer:  renderer,
		detector:  detector,
		extractor: NewExtractor(),
		limiter:   limiter,
		sink:      sink,
		jobs:      jobs,
		retry:     pol,
		clock:     clk,
		logger:    logger,
	}
}

type runState struct {
	mu       sync.Mutex
	counters Counters
	fatalErr error
}

func (rs *runState) setFatal(err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.fatalErr == nil {
		rs.fatalErr = err
	}
}

func (rs *runState) snapshot() Counters {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.counters
}

// Run executes job to completion, updating the job store as it goes. It
// blocks until the frontier drains, the job is canceled, or ctx ends.
func (c *Crawler) Run(ctx context.Context, job Job) {
	logger := c.logger.With(zap.String("job_id", job.ID), zap.String("root", job.Spec.RootURL))

	spec := job.Spec
	if spec.MaxDepth <= 0 {
		spec.MaxDepth = c.cfg.MaxDepth
	}
	if spec.MaxPages <= 0 {
		spec.MaxPages = c.cfg.MaxPages
	}
	if len(spec.AllowedDomains) == 0 {
		spec.AllowedDomains = []string{hostOf(spec.RootURL)}
	}

	frontier := NewFrontier(spec)
	if !frontier.Enqueue(spec.RootURL, 0) {
		c.finish(job.ID, JobFailed, "root url rejected by frontier", Counters{})
		return
	}
	if err := c.jobs.UpdateStatus(job.ID, JobRunning, "", Counters{}); err != nil {
		logger.Warn("job status update failed", zap.Error(err))
	}

	state := &runState{}
	g, gctx := errgroup.WithContext(ctx)
	workers := c.cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil || c.jobs.IsCanceled(job.ID) {
					frontier.Close()
					return nil
				}
				pageURL, depth, ok := frontier.Next()
				if !ok {
					return nil
				}
				c.processPage(gctx, spec, job.ID, frontier, state, pageURL, depth, logger)
				frontier.Done()
			}
		})
	}
	_ = g.Wait()

	counters := state.snapshot()
	switch {
	case c.jobs.IsCanceled(job.ID):
		c.finish(job.ID, JobCanceled, "", counters)
	case ctx.Err() != nil:
		c.finish(job.ID, JobCanceled, ctx.Err().Error(), counters)
	case state.fatalErr != nil:
		c.finish(job.ID, JobFailed, state.fatalErr.Error(), counters)
	case counters.PagesSucceeded == 0:
		c.finish(job.ID, JobFailed, "no pages could be fetched", counters)
	default:
		c.finish(job.ID, JobSucceeded, "", counters)
	}
	logger.Info("crawl finished",
		zap.Int("pages_succeeded", counters.PagesSucceeded),
		zap.Int("pages_failed", counters.PagesFailed),
		zap.Int("fragments_indexed", counters.FragmentsIndexed),
	)
}

func (c *Crawler) finish(jobID string, status JobStatus, errText string, counters Counters) {
	if err := c.jobs.UpdateStatus(jobID, status, errText, counters); err != nil {
		c.logger.Warn("job status update failed", zap.String("job_id", jobID), zap.Error(err))
	}
	metrics.ObserveJob(string(status))
}

func (c *Crawler) processPage(
	ctx context.Context,
	spec JobSpec,
	jobID string,
	frontier *Frontier,
	state *runState,
	pageURL string,
	depth int,
	logger *zap.Logger,
) {
	if err := c.limiter.Wait(ctx, pageURL); err != nil {
		frontier.MarkFailed(pageURL, 0)
		return
	}

	page, err := c.fetchPage(ctx, pageURL)
	if err != nil {
		var fe *FetchError
		status := 0
		if errors.As(err, &fe) {
			status = fe.StatusCode
		}
		frontier.MarkFailed(pageURL, status)
		state.mu.Lock()
		state.counters.PagesFailed++
		state.mu.Unlock()
		metrics.ObserveCrawl(pageURL, "failed", 0)
		logger.Debug("page fetch failed", zap.String("url", pageURL), zap.Error(err))
		return
	}

	doc, err := c.extractor.Extract(page, c.clock.Now())
	if err != nil {
		frontier.MarkFailed(pageURL, page.StatusCode)
		state.mu.Lock()
		state.counters.PagesFailed++
		state.mu.Unlock()
		metrics.ObserveCrawl(pageURL, "failed", len(page.Body))
		return
	}

	for _, link := range doc.Links {
		frontier.Enqueue(link, depth+1)
	}
	frontier.MarkFetched(pageURL, page.StatusCode, sha256.Sum(page.Body), doc.FetchedAt)

	fragments, err := c.sink.IndexPage(ctx, spec.Namespace, doc.URL, doc.Title, doc.Text)
	state.mu.Lock()
	state.counters.PagesSucceeded++
	state.counters.FragmentsIndexed += fragments
	if err != nil {
		state.counters.IndexingFailures++
	}
	state.mu.Unlock()
	if err != nil {
		if errors.Is(err, index.ErrEmbeddingSpaceMismatch) {
			state.setFatal(err)
			frontier.Close()
			return
		}
		logger.Warn("page indexing failed", zap.String("url", pageURL), zap.Error(err))
	}
	metrics.ObserveCrawl(pageURL, "fetched", len(page.Body))
	metrics.AddFragmentsIndexed(fragments)
}

// fetchPage probes over plain HTTP with retry, then promotes to the headless
// renderer when the probe looks like a JS shell.
func (c *Crawler) fetchPage(ctx context.Context, pageURL string) (Page, error) {
	var page Page
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		p, fetchErr := c.fetcher.Fetch(ctx, pageURL)
		if fetchErr != nil {
			return fetchErr
		}
		page = p
		return nil
	})
	if err != nil {
		return Page{}, err
	}

	if c.renderer != nil && c.detector.NeedsJS(page) {
		rendered, renderErr := c.renderer.Render(ctx, pageURL)
		if renderErr != nil {
			// Fall back to the probe body rather than losing the page.
			c.logger.Debug("render failed, using probe body",
				zap.String("url", pageURL), zap.Error(renderErr))
			return page, nil
		}
		return rendered, nil
	}
	return page, nil
}
