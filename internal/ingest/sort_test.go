package ingest

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArticleSortKey(t *testing.T) {

	testCases := []struct {
		article  string
		expected int
	}{
		{"р20-п5-33", 20},
		{"мд33-п2-30", 33},
		{"п5-33", 5},
		{"р1", 1},
		{"р99-п1-1", 99},
		{"20-п5", 20},
		{"7", 7},
		{" р20-п5-33 ", 20},
		{"р100-п5", 999},
		{"р0-п5", 999},
		{"р05-п5", 999},
		{"без номера", 999},
		{"", 999},
	}

	for _, tc := range testCases {
		t.Run(tc.article, func(t *testing.T) {
			assert.Equal(t, tc.expected, ArticleSortKey(tc.article))
		})
	}
}

func TestArticleOrdering(t *testing.T) {

	articles := []string{"без номера", "р20-п5-33", "мд3-п1-1", "п7-2"}
	sort.SliceStable(articles, func(i, j int) bool {
		return ArticleSortKey(articles[i]) < ArticleSortKey(articles[j])
	})

	assert.Equal(t, []string{"мд3-п1-1", "п7-2", "р20-п5-33", "без номера"}, articles)
}
