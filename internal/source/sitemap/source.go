// Package sitemap derives keywords from site-map URLs using gocolly.
package sitemap

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Source fetches a site map and turns each URL's trailing path segment into a
// keyword. Slugs like /blog/best-running-shoes become "best running shoes".
type Source struct {
	sitemapURL string
	cfg        Config
	logger     *zap.Logger
}

// New builds a Source over one site-map URL.
func New(sitemapURL string, cfg Config, logger *zap.Logger) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{sitemapURL: sitemapURL, cfg: cfg, logger: logger}
}

// Keywords fetches the site map and returns the derived keyword set, order
// preserved, duplicates removed.
func (s *Source) Keywords(ctx context.Context) ([]string, error) {
	c := colly.NewCollector(colly.Async(false))
	c.SetRequestTimeout(s.cfg.Timeout)
	if s.cfg.UserAgent != "" {
		c.UserAgent = s.cfg.UserAgent
	}
	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
	})

	seen := make(map[string]struct{})
	var kws []string
	var fetchErr error

	c.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		kw := keywordFromURL(strings.TrimSpace(e.Text))
		if kw == "" {
			return
		}
		if _, ok := seen[kw]; ok {
			return
		}
		seen[kw] = struct{}{}
		kws = append(kws, kw)
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(s.sitemapURL); err != nil {
		return nil, fmt.Errorf("visit sitemap %s: %w", s.sitemapURL, err)
	}
	c.Wait()
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch sitemap %s: %w", s.sitemapURL, fetchErr)
	}

	s.logger.Info("sitemap keywords derived",
		zap.String("sitemap", s.sitemapURL),
		zap.Int("keywords", len(kws)),
	)
	return kws, nil
}

// keywordFromURL turns the last path segment of a page URL into a
// space-separated keyword. Hosts, empty paths, and non-slug segments yield "".
func keywordFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	slug := segments[len(segments)-1]
	slug = strings.TrimSuffix(slug, ".html")

	kw := strings.NewReplacer("-", " ", "_", " ").Replace(slug)
	kw = strings.Join(strings.Fields(kw), " ")
	return strings.ToLower(kw)
}
