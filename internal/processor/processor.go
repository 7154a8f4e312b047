// Package processor extracts document and navigation links from fetched pages.
package processor

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
)

// Follow modes.
const (
	FollowAll        = "all"
	FollowPagination = "pagination"
)

// Config controls link extraction.
type Config struct {
	// Follow selects which navigable anchors are offered: every anchor or only pagination links.
	Follow string
	// MaxDepth discards navigable links deeper than this; zero means unlimited.
	MaxDepth   int
	AllowList  *crawler.DomainAllowList
	Classifier *crawler.Classifier
	Clock      crawler.Clock
}

// Links is the outcome of processing one page.
type Links struct {
	Pages     []crawler.FrontierEntry
	Documents []crawler.DocumentTask
	// Discarded counts navigable links rejected by the allow-list or depth limit.
	Discarded int
}

// Processor is stateless and safe for concurrent use.
type Processor struct {
	follow     string
	maxDepth   int
	allow      *crawler.DomainAllowList
	classifier *crawler.Classifier
	clock      crawler.Clock
}

// New builds a Processor.
func New(cfg Config) *Processor {
	follow := strings.ToLower(strings.TrimSpace(cfg.Follow))
	if follow == "" {
		follow = FollowAll
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = crawler.NewClassifier(nil)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = utcClock{}
	}
	return &Processor{
		follow:     follow,
		maxDepth:   cfg.MaxDepth,
		allow:      cfg.AllowList,
		classifier: classifier,
		clock:      clock,
	}
}

// Process extracts links from page. Malformed markup yields whatever the
// HTML parser recovers; a page without links is not an error.
func (p *Processor) Process(page crawler.Page) (Links, error) {
	base, err := url.Parse(page.BaseURL())
	if err != nil {
		return Links{}, crawler.NewTaskError(crawler.ReasonParse, page.URL, fmt.Errorf("parse page url: %w", err))
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return Links{}, crawler.NewTaskError(crawler.ReasonParse, page.URL, fmt.Errorf("parse html: %w", err))
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, ok := crawler.Resolve(base, href); ok {
			base = resolved
		}
	}

	var (
		links     Links
		seenDocs  = map[string]struct{}{}
		seenPages = map[string]struct{}{}
		now       = p.clock.Now()
		source    = page.URL
		childDeep = page.Depth + 1
	)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs, ok := crawler.Resolve(base, href)
		if !ok {
			return
		}
		target := abs.String()

		if p.isDocumentLink(sel, target) {
			if _, dup := seenDocs[target]; dup {
				return
			}
			seenDocs[target] = struct{}{}
			links.Documents = append(links.Documents, crawler.DocumentTask{
				SourceURL:    source,
				DocumentURL:  target,
				DiscoveredAt: now,
			})
			return
		}

		if p.follow == FollowPagination && !isPaginationLink(sel) {
			return
		}
		if _, dup := seenPages[target]; dup {
			return
		}
		seenPages[target] = struct{}{}
		if !p.allow.Allows(abs.Hostname()) || (p.maxDepth > 0 && childDeep > p.maxDepth) {
			links.Discarded++
			return
		}
		links.Pages = append(links.Pages, crawler.FrontierEntry{
			URL:            target,
			DiscoveredFrom: source,
			Depth:          childDeep,
		})
	})

	return links, nil
}

func (p *Processor) isDocumentLink(sel *goquery.Selection, target string) bool {
	if p.classifier.HasDocumentSuffix(target) {
		return true
	}
	if declared, ok := sel.Attr("type"); ok && p.classifier.IsDocumentType(declared) {
		return true
	}
	return false
}

func isPaginationLink(sel *goquery.Selection) bool {
	if rel, ok := sel.Attr("rel"); ok {
		for _, token := range strings.Fields(strings.ToLower(rel)) {
			if token == "next" {
				return true
			}
		}
	}
	if label, ok := sel.Attr("aria-label"); ok && strings.Contains(label, "Next") {
		return true
	}
	text := strings.TrimSpace(sel.Text())
	return text == ">" || text == "»"
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
