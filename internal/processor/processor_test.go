package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

const listingPage = `<!DOCTYPE html>
<html><head><title>Reports</title></head>
<body>
  <a href="/files/q1.pdf">Q1</a>
  <a href="files/Q2.PDF?download=1">Q2</a>
  <a href="/download?id=7" type="application/pdf">Q3</a>
  <a href="/files/q1.pdf#page=2">Q1 again</a>
  <a href="/about">About</a>
  <a href="https://docs.example.com/archive">Archive</a>
  <a href="https://elsewhere.org/page">Elsewhere</a>
  <a href="mailto:office@example.com">Mail</a>
  <a href="javascript:void(0)">JS</a>
  <a href="#top">Top</a>
  <a href="/reports?page=2" rel="next">&gt;</a>
</body></html>`

func newTestProcessor(cfg Config) *Processor {
	cfg.Clock = fixedClock{t: testTime}
	if cfg.AllowList == nil {
		cfg.AllowList = crawler.NewDomainAllowList([]string{"example.com"})
	}
	return New(cfg)
}

func TestProcessExtractsDocumentsAndPages(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(Config{})
	links, err := p.Process(crawler.Page{URL: "https://example.com/reports/", Depth: 0, Body: []byte(listingPage)})
	require.NoError(t, err)

	var docs []string
	for _, d := range links.Documents {
		docs = append(docs, d.DocumentURL)
		require.Equal(t, "https://example.com/reports/", d.SourceURL)
		require.Equal(t, testTime, d.DiscoveredAt)
	}
	require.Equal(t, []string{
		"https://example.com/files/q1.pdf",
		"https://example.com/reports/files/Q2.PDF?download=1",
		"https://example.com/download?id=7",
	}, docs)

	var pages []string
	for _, e := range links.Pages {
		pages = append(pages, e.URL)
		require.Equal(t, 1, e.Depth)
		require.Equal(t, "https://example.com/reports/", e.DiscoveredFrom)
	}
	require.Equal(t, []string{
		"https://example.com/about",
		"https://docs.example.com/archive",
		"https://example.com/reports?page=2",
	}, pages)
	require.Equal(t, 1, links.Discarded)
}

func TestProcessPaginationMode(t *testing.T) {
	t.Parallel()

	body := `<html><body>
	  <a href="/a.pdf">doc</a>
	  <a href="/other">other</a>
	  <a href="/p2" rel="next">next</a>
	  <a href="/p3" aria-label="Next page">more</a>
	  <a href="/p4"> &gt; </a>
	</body></html>`

	p := newTestProcessor(Config{Follow: FollowPagination})
	links, err := p.Process(crawler.Page{URL: "https://example.com/p1", Body: []byte(body)})
	require.NoError(t, err)
	require.Len(t, links.Documents, 1)

	var pages []string
	for _, e := range links.Pages {
		pages = append(pages, e.URL)
	}
	require.Equal(t, []string{"https://example.com/p2", "https://example.com/p3", "https://example.com/p4"}, pages)
}

func TestProcessHonoursBaseHref(t *testing.T) {
	t.Parallel()

	body := `<html><head><base href="https://example.com/static/"></head>
	<body><a href="doc.pdf">doc</a><a href="next.html">next</a></body></html>`

	p := newTestProcessor(Config{})
	links, err := p.Process(crawler.Page{URL: "https://example.com/index", Body: []byte(body)})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/static/doc.pdf", links.Documents[0].DocumentURL)
	require.Equal(t, "https://example.com/static/next.html", links.Pages[0].URL)
}

func TestProcessUsesFinalURLForResolution(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(Config{})
	links, err := p.Process(crawler.Page{
		URL:      "https://example.com/old",
		FinalURL: "https://example.com/new/list",
		Body:     []byte(`<a href="a.pdf">a</a>`),
	})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/new/a.pdf", links.Documents[0].DocumentURL)
	require.Equal(t, "https://example.com/old", links.Documents[0].SourceURL)
}

func TestProcessMaxDepth(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(Config{MaxDepth: 2})
	links, err := p.Process(crawler.Page{URL: "https://example.com/", Depth: 2, Body: []byte(`<a href="/deeper">x</a><a href="/d.pdf">d</a>`)})
	require.NoError(t, err)
	require.Empty(t, links.Pages)
	require.Len(t, links.Documents, 1)
	require.Equal(t, 1, links.Discarded)
}

func TestProcessMalformedMarkup(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(Config{})
	links, err := p.Process(crawler.Page{URL: "https://example.com/", Body: []byte(`<html><body><div><a href="/x.pdf">x<a href="/y">y</div></p></table>`)})
	require.NoError(t, err)
	require.Len(t, links.Documents, 1)
	require.Len(t, links.Pages, 1)

	links, err = p.Process(crawler.Page{URL: "https://example.com/", Body: nil})
	require.NoError(t, err)
	require.Empty(t, links.Documents)
	require.Empty(t, links.Pages)
}

func TestProcessEmptyAllowListAdmitsAll(t *testing.T) {
	t.Parallel()

	p := New(Config{AllowList: crawler.NewDomainAllowList(nil)})
	links, err := p.Process(crawler.Page{URL: "https://example.com/", Body: []byte(`<a href="https://other.org/x">x</a>`)})
	require.NoError(t, err)
	require.Len(t, links.Pages, 1)
}
