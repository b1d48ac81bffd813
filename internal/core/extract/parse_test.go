package extract

import (
	"errors"
	"testing"

	"enricher/internal/store"

	"github.com/stretchr/testify/require"
)

const productPage = `<!doctype html>
<html><head>
<link rel="canonical" href="https://vendor.example/product/TX-200">
</head><body>
<nav class="breadcrumb"><a href="/">Home</a><a href="/catalog/valves">Valves</a><a href="/catalog/valves/ball">Ball Valves</a></nav>
<h1>  Thermo   Valve TX-200 </h1>
<span class="sku">TX-200</span>
<div class="product-image"><img src="/img/tx200.jpg" alt=""></div>
<a href="/docs/tx200-datasheet.pdf">Datasheet</a>
<a href="/docs/tx200-datasheet.pdf">Datasheet again</a>
<a href="/docs/tx200.dwg?v=2">CAD</a>
<a href="/about">About us</a>
</body></html>`

func TestParsePayloadDefaults(t *testing.T) {
	p := ParsePayload(productPage, "https://vendor.example/product/tx-200?ref=abc#top", store.ExtractionRules{})

	require.Equal(t, "Thermo Valve TX-200", p.Name)
	require.Equal(t, "https://vendor.example/product/TX-200", p.CanonicalURL)
	require.Equal(t, "TX-200", p.GuessedCode)
	require.Equal(t, "https://vendor.example/img/tx200.jpg", p.ImageURL)
	require.Equal(t, []string{
		"https://vendor.example/docs/tx200-datasheet.pdf",
		"https://vendor.example/docs/tx200.dwg?v=2",
	}, p.FileURLs)
	require.Equal(t, "Valves / Ball Valves", p.Category)
	require.False(t, p.Empty())
}

func TestParsePayloadProfileRulesWin(t *testing.T) {
	html := `<html><body>
<h1>Wrong name</h1>
<div id="title">Right name</div>
<img class="hero" data-src="https://cdn.example/hero.png">
</body></html>`

	rules := store.ExtractionRules{Name: "#title", Image: "img.hero"}
	p := ParsePayload(html, "https://vendor.example/p/x1", rules)

	require.Equal(t, "Right name", p.Name)
	require.Equal(t, "https://cdn.example/hero.png", p.ImageURL)
}

func TestParsePayloadCanonicalFallsBackToStrippedURL(t *testing.T) {
	p := ParsePayload("<html><body><h1>X</h1></body></html>",
		"https://vendor.example/p/a?page=2#frag", store.ExtractionRules{})
	require.Equal(t, "https://vendor.example/p/a", p.CanonicalURL)
}

func TestParsePayloadEmptyPage(t *testing.T) {
	p := ParsePayload("<html><body><p>nothing here</p></body></html>",
		"https://vendor.example/legal", store.ExtractionRules{})
	require.True(t, p.Empty())
}

func TestGuessCodeFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://v.example/p/tx-200", "TX-200"},
		{"https://v.example/p/ab12cd", "AB12CD"},
		{"https://v.example/p/some-very-long-marketing-product-slug", ""},
		{"https://v.example/p/valves", ""},
		{"https://v.example/", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, guessCodeFromURL(tc.url), tc.url)
	}
}

func TestKindOfTaxonomy(t *testing.T) {
	err := NewItemError(KindTimeout, "navigation timeout for %s", "x")
	require.Equal(t, KindTimeout, KindOf(err))
	require.Contains(t, err.Error(), "timeout")
	require.Equal(t, KindNavigation, KindOf(errors.New("plain failure")))
}
