package edge

import (
	"context"
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string  `xml:"loc"`
	LastMod    string  `xml:"lastmod,omitempty"`
	ChangeFreq string  `xml:"changefreq,omitempty"`
	Priority   float64 `xml:"priority"`
}

// ContentLister lists public content for the sitemap.
type ContentLister interface {
	ListProducts(ctx context.Context, visibility string) ([]ContentItem, error)
	ListServices(ctx context.Context, visibility string) ([]ContentItem, error)
}

type sitemapBuilder struct {
	baseURL string
	content ContentLister
	log     *zap.Logger
	now     func() time.Time
}

func (b *sitemapBuilder) build(ctx context.Context) sitemapURLSet {
	now := b.now().UTC()
	set := sitemapURLSet{XMLNS: sitemapNS}
	add := func(path string, mod time.Time, freq string, prio float64) {
		u := sitemapURL{Loc: b.baseURL + path, ChangeFreq: freq, Priority: prio}
		if !mod.IsZero() {
			u.LastMod = mod.UTC().Format(time.RFC3339)
		}
		set.URLs = append(set.URLs, u)
	}

	add("", now, "daily", 1)
	add("/about", now, "monthly", 0.8)
	add("/login", now, "monthly", 0.5)

	sections := []struct {
		prefix string
		list   func(context.Context, string) ([]ContentItem, error)
	}{
		{"/products", b.content.ListProducts},
		{"/services", b.content.ListServices},
	}
	for _, sec := range sections {
		items, err := sec.list(ctx, "public")
		if err != nil {
			b.log.Warn("sitemap: listing failed, section skipped",
				zap.String("section", sec.prefix), zap.Error(err))
			continue
		}
		add(sec.prefix, now, "weekly", 0.9)
		for _, it := range items {
			if strings.TrimSpace(it.Slug) == "" {
				continue
			}
			add(sec.prefix+"/"+it.Slug, it.UpdatedAt, "weekly", 0.8)
		}
	}
	return set
}

func (b *sitemapBuilder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	set := b.build(r.Context())
	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		b.log.Error("sitemap: encode", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}

func robotsTxt(baseURL string) string {
	var b strings.Builder
	b.WriteString("User-agent: *\n")
	b.WriteString("Allow: /\n")
	for _, p := range []string{"/private/", "/api/", "/_next/", "/labs/"} {
		b.WriteString("Disallow: " + p + "\n")
	}
	b.WriteString("\nUser-agent: GPTBot\n")
	b.WriteString("Disallow: /\n")
	b.WriteString("\nSitemap: " + baseURL + "/sitemap.xml\n")
	return b.String()
}

func robotsHandler(baseURL string) http.Handler {
	body := robotsTxt(baseURL)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	})
}
