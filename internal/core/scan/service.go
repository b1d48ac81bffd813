// Package scan discovers a site's category/product navigation tree without
// extracting full product data. The tree previews a crawl plan and feeds
// the target list for bulk jobs.
package scan

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"enricher/internal/logger"

	"github.com/gocolly/colly"
)

// Node is one typed entry in the discovered navigation tree.
type Node struct {
	Kind     NodeKind `json:"kind"`
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Children []*Node  `json:"children,omitempty"`
}

// Request configures a structure scan.
type Request struct {
	URL  string `json:"url"`
	Deep bool   `json:"deep"`
}

type Service struct {
	log *logger.Logger
}

func NewService() *Service { return &Service{log: logger.New("ScanService")} }

const (
	shallowDepth = 1
	deepDepth    = 3
)

// Scan walks navigation from the root URL and returns the typed tree. The
// visited set prevents recursion on self-referential menus; the depth bound
// caps it regardless.
func (s *Service) Scan(ctx context.Context, req Request) (*Node, error) {
	depth := shallowDepth
	if req.Deep {
		depth = deepDepth
	}
	rootURL := Normalize(req.URL)
	root := &Node{Kind: KindCategory, Name: "root", URL: rootURL}

	var mu sync.Mutex
	nodes := map[string]*Node{rootURL: root}

	c := colly.NewCollector(colly.MaxDepth(depth), colly.Async(true))
	_ = c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 4, RandomDelay: 250 * time.Millisecond})

	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		s.log.LogWarnf("scan fetch failed %s: %v", r.Request.URL, err)
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := Normalize(e.Request.AbsoluteURL(e.Attr("href")))
		if link == "" || !SameDomain(link, rootURL) {
			return
		}
		kind := Classify(link)
		if kind == KindSkip {
			return
		}
		parentURL := Normalize(e.Request.URL.String())

		mu.Lock()
		parent, ok := nodes[parentURL]
		if !ok {
			mu.Unlock()
			return
		}
		if _, seen := nodes[link]; seen {
			mu.Unlock()
			return
		}
		node := &Node{Kind: kind, Name: linkName(e), URL: link}
		nodes[link] = node
		parent.Children = append(parent.Children, node)
		mu.Unlock()

		if kind == KindCategory && e.Request.Depth < depth {
			_ = e.Request.Visit(link)
		}
	})

	if err := c.Visit(rootURL); err != nil {
		return nil, fmt.Errorf("visit %s: %w", rootURL, err)
	}
	c.Wait()

	mu.Lock()
	discovered := len(nodes) - 1
	mu.Unlock()
	s.log.LogInfof("scan done root=%s deep=%v discovered=%d", req.URL, req.Deep, discovered)
	return root, nil
}

// PlanTargets flattens a scan into the product URLs a bulk job will fetch.
func (s *Service) PlanTargets(ctx context.Context, rootURL string, deep bool) ([]string, error) {
	tree, err := s.Scan(ctx, Request{URL: rootURL, Deep: deep})
	if err != nil {
		return nil, err
	}
	return CollectProducts(tree), nil
}

// CollectProducts returns every product URL in the tree, depth-first,
// deduplicated.
func CollectProducts(root *Node) []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.Kind == KindProduct {
			if _, dup := seen[n.URL]; !dup {
				seen[n.URL] = struct{}{}
				out = append(out, n.URL)
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}

func linkName(e *colly.HTMLElement) string {
	name := strings.TrimSpace(e.Text)
	if name == "" {
		name = strings.TrimSpace(e.ChildAttr("img", "alt"))
	}
	if name == "" {
		segs := strings.Split(strings.Trim(e.Request.AbsoluteURL(e.Attr("href")), "/"), "/")
		name = segs[len(segs)-1]
	}
	if len(name) > 80 {
		name = name[:80]
	}
	return name
}
