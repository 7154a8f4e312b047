package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercase scheme and host", in: "HTTPS://Example.COM/Docs", want: "https://example.com/Docs"},
		{name: "default http port", in: "http://example.com:80/a", want: "http://example.com/a"},
		{name: "default https port", in: "https://example.com:443/a", want: "https://example.com/a"},
		{name: "custom port kept", in: "http://example.com:8080/a", want: "http://example.com:8080/a"},
		{name: "fragment dropped", in: "https://example.com/a#section", want: "https://example.com/a"},
		{name: "empty path", in: "https://example.com", want: "https://example.com/"},
		{name: "trailing slash", in: "https://example.com/reports/", want: "https://example.com/reports"},
		{name: "query sorted", in: "https://example.com/a?b=2&a=1", want: "https://example.com/a?a=1&b=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLEquivalentForms(t *testing.T) {
	t.Parallel()

	a, err := NormalizeURL("HTTP://Example.com:80/path/?y=2&x=1#top")
	require.NoError(t, err)
	b, err := NormalizeURL("http://example.com/path?x=1&y=2")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestNormalizeURLRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"mailto:someone@example.com", "javascript:void(0)", "/relative/path", "ftp://example.com/a.pdf", "http://"} {
		_, err := NormalizeURL(raw)
		require.Error(t, err, raw)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/reports/index.html")
	require.NoError(t, err)

	abs, ok := Resolve(base, "q1.pdf")
	require.True(t, ok)
	require.Equal(t, "https://example.com/reports/q1.pdf", abs.String())

	abs, ok = Resolve(base, "//cdn.example.org/x.pdf")
	require.True(t, ok)
	require.Equal(t, "https://cdn.example.org/x.pdf", abs.String())

	for _, ref := range []string{"", "#top", "mailto:a@b.c", "javascript:void(0)", "tel:123"} {
		_, ok := Resolve(base, ref)
		require.False(t, ok, ref)
	}
}

func TestDomainOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", DomainOf("https://Example.COM:8443/a"))
	require.Empty(t, DomainOf("::bad"))
}
