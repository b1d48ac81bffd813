package extract

import (
	"net/url"
	"strings"

	"enricher/internal/store"

	"github.com/PuerkitoBio/goquery"
)

// fallback selectors applied when a profile rule is empty. Vendor sites vary
// wildly, so these mirror the common product-page markup.
var (
	defaultNameSelectors  = []string{"h1", ".product-title", ".product-name", "h2.title"}
	defaultImageSelectors = []string{".product-image img", ".gallery img", "main img", "img"}
	defaultCodeSelectors  = []string{".sku", ".product-code", "[itemprop=sku]", ".reference"}
	fileExtensions        = []string{".pdf", ".dwg", ".dxf", ".zip", ".step", ".stp", ".3ds"}
)

// ParsePayload applies profile extraction rules to a product page and pulls
// the structured fields. A page where nothing matches yields an empty
// payload; the caller classifies that as a selector_not_found item error.
func ParsePayload(html, pageURL string, rules store.ExtractionRules) store.Payload {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return store.Payload{}
	}

	p := store.Payload{
		Name:         firstText(doc, rules.Name, defaultNameSelectors),
		GuessedCode:  firstText(doc, rules.Code, defaultCodeSelectors),
		CanonicalURL: canonicalURL(doc, pageURL),
	}

	if img := firstAttr(doc, rules.Image, defaultImageSelectors, "src", "data-src"); img != "" {
		p.ImageURL = absolutize(img, pageURL)
	}
	p.FileURLs = fileLinks(doc, rules.FileLinks, pageURL)
	p.Category = categoryLabel(doc, rules.Category)
	if p.GuessedCode == "" {
		p.GuessedCode = guessCodeFromURL(p.CanonicalURL)
	}
	return p
}

func firstText(doc *goquery.Document, rule string, fallbacks []string) string {
	selectors := fallbacks
	if rule != "" {
		selectors = []string{rule}
	}
	for _, sel := range selectors {
		if t := strings.TrimSpace(doc.Find(sel).First().Text()); t != "" {
			return collapseSpace(t)
		}
	}
	return ""
}

func firstAttr(doc *goquery.Document, rule string, fallbacks []string, attrs ...string) string {
	selectors := fallbacks
	if rule != "" {
		selectors = []string{rule}
	}
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		for _, a := range attrs {
			if v, ok := node.Attr(a); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// canonicalURL prefers the page's declared canonical link, falling back to
// the fetched URL stripped of query and fragment.
func canonicalURL(doc *goquery.Document, pageURL string) string {
	if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok {
		if abs := absolutize(strings.TrimSpace(href), pageURL); abs != "" {
			return abs
		}
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func fileLinks(doc *goquery.Document, rule, pageURL string) []string {
	sel := "a[href]"
	if rule != "" {
		sel = rule
	}
	seen := make(map[string]struct{})
	var out []string
	doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if rule == "" && !isFileLink(href) {
			return
		}
		abs := absolutize(href, pageURL)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

func isFileLink(href string) bool {
	lower := strings.ToLower(href)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range fileExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// categoryLabel walks the breadcrumb trail when no rule is configured.
func categoryLabel(doc *goquery.Document, rule string) string {
	if rule != "" {
		return collapseSpace(strings.TrimSpace(doc.Find(rule).First().Text()))
	}
	var parts []string
	doc.Find(".breadcrumb a, nav.breadcrumbs a, ol.breadcrumb li").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" && !strings.EqualFold(t, "home") {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " / ")
}

// guessCodeFromURL uses the last path segment as a product code candidate
// when the page carries no explicit SKU marker.
func guessCodeFromURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	segs := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segs) == 0 {
		return ""
	}
	last := segs[len(segs)-1]
	// Only trust segments that look like references, not slugs.
	if len(last) == 0 || len(last) > 24 || strings.Count(last, "-") > 2 {
		return ""
	}
	if !strings.ContainsAny(last, "0123456789") {
		return ""
	}
	return strings.ToUpper(last)
}

func absolutize(href, base string) string {
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "#") {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	u, err := b.Parse(href)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
