package crawl

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HeuristicDetector decides whether a fetched page needs JavaScript
// rendering, using simple HTML signals: suspiciously small bodies, known
// "enable JS" phrases, and SPA mount points with no server-rendered content.
type HeuristicDetector struct {
	minHTMLBytes int
	keywords     [][]byte
	selectors    []string
}

// DefaultJSKeywords are phrases that typically appear on JS-only shells.
var DefaultJSKeywords = []string{
	"enable javascript",
	"javascript is required",
	"__next_data__",
}

// NewHeuristicDetector constructs a detector with the configured thresholds.
func NewHeuristicDetector(minBytes int, keywords, selectors []string) *HeuristicDetector {
	lowered := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowered = append(lowered, bytes.ToLower([]byte(kw)))
	}
	return &HeuristicDetector{
		minHTMLBytes: minBytes,
		keywords:     lowered,
		selectors:    selectors,
	}
}

// NeedsJS inspects the probe fetch for signals that rendering is required.
func (d *HeuristicDetector) NeedsJS(page Page) bool {
	if d == nil {
		return false
	}
	switch {
	case d.minHTMLBytes > 0 && len(page.Body) < d.minHTMLBytes:
		return true
	case d.containsKeywords(page.Body):
		return true
	default:
		return d.missingSelectors(page.Body)
	}
}

func (d *HeuristicDetector) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *HeuristicDetector) missingSelectors(body []byte) bool {
	if len(d.selectors) == 0 || len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}
