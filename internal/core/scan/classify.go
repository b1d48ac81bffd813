package scan

import (
	"net/url"
	"strings"
)

// NodeKind types a discovered navigation node.
type NodeKind string

const (
	KindCategory NodeKind = "category"
	KindProduct  NodeKind = "product"
	KindSkip     NodeKind = "skip"
)

// Paths that never lead to catalog content. Matched as substrings of the
// URL path.
var disallowPatterns = []string{
	"/login", "/account", "/cart", "/carrito", "/checkout", "/blog",
	"/news", "/press", "/privacy", "/terms", "/imprint", "/contact",
	"/jobs", "/search", "/wishlist",
}

var productKeywords = []string{
	"/product/", "/products/", "/prodotti/", "/produkt/", "/item/",
	"/detail/", "/p/", "/articolo/",
}

var categoryKeywords = []string{
	"/category/", "/categoria/", "/categorie/", "/collection/",
	"/collections/", "/collezioni/", "/catalog/", "/catalogo/", "/serie/",
	"/range/", "/family/",
}

// Classify decides whether a discovered link is a category hub, a product
// page, or navigation noise. URL keywords win; otherwise path depth is the
// tiebreaker (leaf-deep slugs are products, shallow ones categories).
func Classify(rawURL string) NodeKind {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return KindSkip
	}
	path := strings.ToLower(u.Path)
	if path == "" || path == "/" {
		return KindSkip
	}
	for _, pat := range disallowPatterns {
		if strings.Contains(path, pat) {
			return KindSkip
		}
	}
	probe := path
	if !strings.HasSuffix(probe, "/") {
		probe += "/"
	}
	for _, kw := range productKeywords {
		if strings.Contains(probe, kw) {
			return KindProduct
		}
	}
	for _, kw := range categoryKeywords {
		if strings.Contains(probe, kw) {
			return KindCategory
		}
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) >= 3 {
		return KindProduct
	}
	return KindCategory
}

// SameDomain reports whether the link stays on the scanned site, ignoring a
// www prefix.
func SameDomain(link, root string) bool {
	a, errA := url.Parse(link)
	b, errB := url.Parse(root)
	if errA != nil || errB != nil {
		return false
	}
	ha := strings.TrimPrefix(a.Hostname(), "www.")
	hb := strings.TrimPrefix(b.Hostname(), "www.")
	return ha != "" && ha == hb
}

// Normalize strips fragments and trailing-slash noise so the visited set
// catches self-referential navigation.
func Normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}
