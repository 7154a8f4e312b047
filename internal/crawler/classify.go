package crawler

import (
	"mime"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is the routing class of a fetched response.
type Kind int

// Response kinds.
const (
	KindOther Kind = iota
	KindPage
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindPage:
		return "page"
	case KindDocument:
		return "document"
	default:
		return "other"
	}
}

// DefaultDocumentExtensions lists the suffixes treated as documents when none are configured.
var DefaultDocumentExtensions = []string{".pdf"}

// Classifier decides whether URLs and responses are pages or documents.
type Classifier struct {
	extensions []string
	mediaTypes map[string]struct{}
}

// NewClassifier builds a classifier for the given document extensions.
func NewClassifier(extensions []string) *Classifier {
	if len(extensions) == 0 {
		extensions = DefaultDocumentExtensions
	}
	c := &Classifier{mediaTypes: map[string]struct{}{}}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.extensions = append(c.extensions, ext)
		if mt := mime.TypeByExtension(ext); mt != "" {
			if base, _, err := mime.ParseMediaType(mt); err == nil {
				c.mediaTypes[base] = struct{}{}
			}
		}
		if m := mimetype.Lookup("application/" + strings.TrimPrefix(ext, ".")); m != nil {
			c.mediaTypes[m.String()] = struct{}{}
		}
	}
	if c.hasExtension(".pdf") {
		c.mediaTypes["application/pdf"] = struct{}{}
		c.mediaTypes["application/x-pdf"] = struct{}{}
	}
	return c
}

// Extensions returns the configured document suffixes.
func (c *Classifier) Extensions() []string {
	return append([]string(nil), c.extensions...)
}

func (c *Classifier) hasExtension(ext string) bool {
	for _, e := range c.extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// HasDocumentSuffix reports whether the path of rawURL ends with a document extension.
func (c *Classifier) HasDocumentSuffix(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, ext := range c.extensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// IsDocumentType reports whether a Content-Type value names a document.
func (c *Classifier) IsDocumentType(contentType string) bool {
	base := mediaType(contentType)
	if base == "" {
		return false
	}
	_, ok := c.mediaTypes[base]
	return ok
}

// Classify routes a response: declared Content-Type first, then content
// sniffing, then the URL suffix.
func (c *Classifier) Classify(rawURL, contentType string, body []byte) Kind {
	declared := mediaType(contentType)
	if c.IsDocumentType(declared) {
		return KindDocument
	}
	if isHTMLType(declared) {
		return KindPage
	}
	if len(body) > 0 {
		detected := mimetype.Detect(body)
		if c.hasExtension(detected.Extension()) || c.IsDocumentType(detected.String()) {
			return KindDocument
		}
		if detected.Is("text/html") || detected.Is("application/xhtml+xml") {
			return KindPage
		}
	}
	if c.HasDocumentSuffix(rawURL) {
		return KindDocument
	}
	if declared == "" || strings.HasPrefix(declared, "text/") {
		return KindPage
	}
	return KindOther
}

// IsPDF reports whether body looks like a PDF.
func IsPDF(contentType string, body []byte) bool {
	if mediaType(contentType) == "application/pdf" {
		return true
	}
	return len(body) > 0 && mimetype.Detect(body).Is("application/pdf")
}

func isHTMLType(mt string) bool {
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func mediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	base, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		base, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(base))
}
