package sitemap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sitemapXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/blog/best-running-shoes</loc></url>
  <url><loc>https://example.com/blog/best-running-shoes</loc></url>
  <url><loc>https://example.com/guides/winter_jacket_care.html</loc></url>
  <url><loc>https://example.com/</loc></url>
</urlset>`

func TestKeywordsFromSitemap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sitemap.xml", r.URL.Path)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sitemapXML))
	}))
	defer srv.Close()

	src := New(srv.URL+"/sitemap.xml", Config{}, zap.NewNop())
	kws, err := src.Keywords(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"best running shoes", "winter jacket care"}, kws)
}

func TestKeywordsFetchErrorPropagates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := New(srv.URL+"/sitemap.xml", Config{}, zap.NewNop())
	_, err := src.Keywords(context.Background())
	require.Error(t, err)
}

func TestKeywordFromURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://example.com/blog/best-running-shoes":  "best running shoes",
		"https://example.com/winter_jacket_care.html":  "winter jacket care",
		"https://example.com/a/b/Mixed-Case-Slug":      "mixed case slug",
		"https://example.com/":                         "",
		"https://example.com":                          "",
		"https://example.com/spaced--double---hyphens": "spaced double hyphens",
	}
	for in, want := range cases {
		require.Equal(t, want, keywordFromURL(in), "input %q", in)
	}
}
