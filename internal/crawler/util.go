package crawler

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

const maxBasenameLen = 120

// SafeBasename returns a filesystem-safe version of the last path segment of
// rawURL. It never returns an empty string.
func SafeBasename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "document"
	}
	segment := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	segment = invalidFilenameChars.ReplaceAllString(segment, "_")
	segment = strings.Trim(segment, "._")
	if segment == "" {
		return "document"
	}
	if len(segment) > maxBasenameLen {
		ext := path.Ext(segment)
		if len(ext) >= maxBasenameLen {
			ext = ""
		}
		segment = segment[:maxBasenameLen-len(ext)] + ext
	}
	return segment
}

// ArtifactName builds the deterministic on-disk name for a document:
// the first 12 hex digits of digest followed by the sanitized basename.
// When the basename carries no extension, fallbackExt is appended.
func ArtifactName(digest, rawURL, fallbackExt string) string {
	prefix := digest
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	base := SafeBasename(rawURL)
	if path.Ext(base) == "" && fallbackExt != "" {
		base += fallbackExt
	}
	return prefix + "_" + base
}

// WithOrdinal inserts "-n" before the extension of name.
func WithOrdinal(name string, n int) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return stem + "-" + strconv.Itoa(n) + ext
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
