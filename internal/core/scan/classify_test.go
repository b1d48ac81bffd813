package scan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		url  string
		want NodeKind
	}{
		{"https://v.example/product/tx-200", KindProduct},
		{"https://v.example/prodotti/valvola", KindProduct},
		{"https://v.example/p/123", KindProduct},
		{"https://v.example/category/valves", KindCategory},
		{"https://v.example/collections/2026", KindCategory},
		{"https://v.example/valves", KindCategory},
		{"https://v.example/valves/ball/tx-200", KindProduct},
		{"https://v.example/login", KindSkip},
		{"https://v.example/shop/cart", KindSkip},
		{"https://v.example/blog/new-valves", KindSkip},
		{"https://v.example/", KindSkip},
		{"ftp://v.example/files", KindSkip},
		{"not a url at all\x00", KindSkip},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Classify(tc.url), tc.url)
	}
}

func TestSameDomain(t *testing.T) {
	require.True(t, SameDomain("https://www.v.example/a", "https://v.example/"))
	require.True(t, SameDomain("https://v.example/a", "https://www.v.example/"))
	require.False(t, SameDomain("https://other.example/a", "https://v.example/"))
	require.False(t, SameDomain("", "https://v.example/"))
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "https://v.example/a", Normalize("https://v.example/a/#section"))
	require.Equal(t, "https://v.example/a?x=1", Normalize("https://v.example/a?x=1"))
	require.Equal(t, "https://v.example/", Normalize("https://v.example/"))
}

func TestCollectProducts(t *testing.T) {
	root := &Node{
		Kind: KindCategory, URL: "https://v.example",
		Children: []*Node{
			{Kind: KindProduct, URL: "https://v.example/p/1"},
			{
				Kind: KindCategory, URL: "https://v.example/c/valves",
				Children: []*Node{
					{Kind: KindProduct, URL: "https://v.example/p/2"},
					{Kind: KindProduct, URL: "https://v.example/p/1"},
				},
			},
		},
	}
	require.Equal(t, []string{"https://v.example/p/1", "https://v.example/p/2"}, CollectProducts(root))
}
