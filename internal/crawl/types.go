// Package crawl implements the site crawl pipeline: frontier, fetching,
// optional headless rendering, extraction, and job tracking.
package crawl

import (
	"net/http"
	"time"
)

// JobStatus is the lifecycle state of a crawl job.
type JobStatus string

// Job lifecycle states.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// JobSpec describes the crawl a caller requested.
type JobSpec struct {
	RootURL        string
	Namespace      string
	MaxDepth       int
	MaxPages       int
	AllowedDomains []string
}

// Counters accumulates per-job progress.
type Counters struct {
	PagesSucceeded   int `json:"pages_succeeded"`
	PagesFailed      int `json:"pages_failed"`
	FragmentsIndexed int `json:"fragments_indexed"`
	IndexingFailures int `json:"indexing_failures"`
}

// Job is the tracked state of one crawl.
type Job struct {
	ID        string
	Spec      JobSpec
	Status    JobStatus
	Submitted time.Time
	Started   time.Time
	Finished  time.Time
	Error     string
	Counters  Counters
}

// VisitStatus records the outcome of a frontier entry.
type VisitStatus string

// Visit outcomes.
const (
	VisitPending VisitStatus = "pending"
	VisitFetched VisitStatus = "fetched"
	VisitFailed  VisitStatus = "failed"
)

// VisitRecord is the dedup entry for one normalized URL. A record exists for
// every URL admitted to the frontier, created atomically with admission.
type VisitRecord struct {
	URL         string
	Depth       int
	Status      VisitStatus
	StatusCode  int
	ContentHash string
	FetchedAt   time.Time
}

// Page is the raw result of fetching or rendering a URL.
type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	UsedJS      bool
}

// PageDocument is the extracted form of a page: cleaned text, title, and the
// outbound links discovered on it.
type PageDocument struct {
	URL       string
	Title     string
	Text      string
	Links     []string
	FetchedAt time.Time
}
