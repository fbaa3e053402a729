package crawl

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Extractor turns raw HTML into a PageDocument: title, cleaned text, and the
// outbound links found on the page.
type Extractor struct{}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract parses the page body. Script, style, and embedded non-content
// elements are removed before text extraction; navigation chrome is removed
// from the text but its links are still collected. Invalid UTF-8 is replaced
// with the replacement rune. Parse failures are permanent fetch errors.
func (e *Extractor) Extract(page Page, now time.Time) (PageDocument, error) {
	body := strings.ToValidUTF8(string(page.Body), "�")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return PageDocument{}, permanentErr(page.URL, page.StatusCode, fmt.Errorf("parse html: %w", err))
	}

	doc.Find("script, style, noscript, template, iframe").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	links := e.extractLinks(doc, page)

	doc.Find("nav, header, footer, aside").Remove()
	text := collapseWhitespace(doc.Find("body").Text())
	if text == "" {
		// Plain-text responses have no body element.
		text = collapseWhitespace(doc.Text())
	}

	return PageDocument{
		URL:       page.URL,
		Title:     title,
		Text:      text,
		Links:     links,
		FetchedAt: now,
	}, nil
}

// extractLinks resolves every anchor href against the page's final URL,
// keeping only http(s) targets.
func (e *Extractor) extractLinks(doc *goquery.Document, page Page) []string {
	baseRaw := page.FinalURL
	if baseRaw == "" {
		baseRaw = page.URL
	}
	base, err := url.Parse(baseRaw)
	if err != nil {
		return nil
	}

	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		link := resolved.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

// collapseWhitespace reduces all runs of whitespace to single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
