package edge

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLister struct {
	products    []ContentItem
	services    []ContentItem
	productsErr error
	servicesErr error
}

func (f fakeLister) ListProducts(ctx context.Context, visibility string) ([]ContentItem, error) {
	return f.products, f.productsErr
}

func (f fakeLister) ListServices(ctx context.Context, visibility string) ([]ContentItem, error) {
	return f.services, f.servicesErr
}

func locs(set sitemapURLSet) []string {
	out := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		out = append(out, u.Loc)
	}
	return out
}

func TestSitemapBuild(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	b := &sitemapBuilder{
		baseURL: "https://relvanta.com",
		content: fakeLister{
			products: []ContentItem{{Slug: "atlas", UpdatedAt: updated}, {Slug: " "}},
			services: []ContentItem{{Slug: "audit", UpdatedAt: updated}},
		},
		log: zap.NewNop(),
		now: func() time.Time { return now },
	}

	set := b.build(context.Background())
	assert.Equal(t, []string{
		"https://relvanta.com",
		"https://relvanta.com/about",
		"https://relvanta.com/login",
		"https://relvanta.com/products",
		"https://relvanta.com/products/atlas",
		"https://relvanta.com/services",
		"https://relvanta.com/services/audit",
	}, locs(set))

	home := set.URLs[0]
	assert.Equal(t, "daily", home.ChangeFreq)
	assert.Equal(t, 1.0, home.Priority)
	assert.Equal(t, "2026-10-14T09:00:00Z", home.LastMod)

	atlas := set.URLs[4]
	assert.Equal(t, "weekly", atlas.ChangeFreq)
	assert.Equal(t, 0.8, atlas.Priority)
	assert.Equal(t, "2026-09-01T00:00:00Z", atlas.LastMod)
}

func TestSitemapSkipsFailedSection(t *testing.T) {
	b := &sitemapBuilder{
		baseURL: "https://relvanta.com",
		content: fakeLister{
			productsErr: errUpstreamDown,
			services:    []ContentItem{{Slug: "audit"}},
		},
		log: zap.NewNop(),
		now: time.Now,
	}

	got := locs(b.build(context.Background()))
	assert.NotContains(t, got, "https://relvanta.com/products")
	assert.Contains(t, got, "https://relvanta.com/services/audit")
	assert.Len(t, got, 5)
}

func TestSitemapServeHTTP(t *testing.T) {
	b := &sitemapBuilder{
		baseURL: "https://relvanta.com",
		content: fakeLister{},
		log:     zap.NewNop(),
		now:     time.Now,
	}
	rec := httptest.NewRecorder()
	b.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sitemap.xml", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "<?xml"))

	var doc struct {
		URLs []string `xml:"url>loc"`
	}
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Len(t, doc.URLs, 5)
}

func TestRobotsTxt(t *testing.T) {
	body := robotsTxt("https://relvanta.com")
	for _, want := range []string{
		"User-agent: *\nAllow: /\n",
		"Disallow: /private/\n",
		"Disallow: /api/\n",
		"Disallow: /_next/\n",
		"Disallow: /labs/\n",
		"User-agent: GPTBot\nDisallow: /\n",
		"Sitemap: https://relvanta.com/sitemap.xml\n",
	} {
		assert.Contains(t, body, want)
	}
}
