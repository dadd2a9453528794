package models

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestNumberOfPages(t *testing.T) {
	cases := map[int64]int{0: 0, 1: 1, 9: 1, 10: 2, 18: 2, 19: 3}
	for total, want := range cases {
		assert.Equal(t, want, NumberOfPages(total), "total=%d", total)
	}
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"travel", "beach"}, SplitTags(" travel, beach ,"))
	assert.Equal(t, []string{}, SplitTags(""))
	assert.Equal(t, []string{}, SplitTags(" , ,"))
}

func TestSearchQueryIsEmpty(t *testing.T) {
	assert.True(t, SearchQuery{}.IsEmpty())
	assert.True(t, SearchQuery{Text: "   "}.IsEmpty())
	assert.False(t, SearchQuery{Text: "cat"}.IsEmpty())
	assert.False(t, SearchQuery{Tags: []string{"travel"}}.IsEmpty())
}

func TestCloneDoesNotShareArrays(t *testing.T) {
	p := Post{ID: "a", Tags: pq.StringArray{"x"}, Likes: pq.StringArray{"u1"}}
	c := p.Clone()
	c.Likes[0] = "u2"
	c.Tags = append(c.Tags, "y")

	assert.Equal(t, pq.StringArray{"u1"}, p.Likes)
	assert.Equal(t, pq.StringArray{"x"}, p.Tags)
	assert.True(t, p.LikedBy("u1"))
	assert.False(t, p.LikedBy("u2"))
}
