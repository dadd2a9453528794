package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// PageSize is the number of posts in one page of the feed.
const PageSize = 9

type Post struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"_id"`
	Title     string         `gorm:"not null" json:"title"`
	Message   string         `json:"message"`
	Creator   string         `gorm:"index" json:"creator"`
	Name      string         `json:"name"`
	Tags      pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"tags"`
	Image     string         `json:"selectedFile"`
	Likes     pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"likes"`
	CreatedAt time.Time      `gorm:"index" json:"createdAt"`
}

// LikedBy reports whether principal is in the like set.
func (p *Post) LikedBy(principal string) bool {
	for _, id := range p.Likes {
		if id == principal {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never share the backing arrays.
func (p Post) Clone() Post {
	p.Tags = append(make(pq.StringArray, 0, len(p.Tags)), p.Tags...)
	p.Likes = append(make(pq.StringArray, 0, len(p.Likes)), p.Likes...)
	return p
}

// PostInput carries the client-editable fields of a post.
type PostInput struct {
	Title   string   `json:"title" binding:"notblank"`
	Message string   `json:"message"`
	Tags    []string `json:"tags"`
	Image   string   `json:"selectedFile"`
}

// Patch returns a patch that replaces every editable field with in's.
func (in PostInput) Patch() PostPatch {
	tags := append([]string{}, in.Tags...)
	return PostPatch{Title: &in.Title, Message: &in.Message, Tags: &tags, Image: &in.Image}
}

// PostPatch is a partial update. Nil fields were not sent and are left
// unchanged; a sent title must not be blank.
type PostPatch struct {
	Title   *string   `json:"title" binding:"omitempty,notblank"`
	Message *string   `json:"message"`
	Tags    *[]string `json:"tags"`
	Image   *string   `json:"selectedFile"`
}

// IsEmpty reports whether the patch changes nothing.
func (p PostPatch) IsEmpty() bool {
	return p.Title == nil && p.Message == nil && p.Tags == nil && p.Image == nil
}

// SplitTags turns comma separated free text into a tag list, trimming
// whitespace and dropping empty entries.
func SplitTags(raw string) []string {
	tags := []string{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// SearchQuery selects posts whose title contains Text (case-insensitive) or
// whose tags intersect Tags.
type SearchQuery struct {
	Text string
	Tags []string
}

// IsEmpty reports whether the query can match anything at all.
func (q SearchQuery) IsEmpty() bool {
	return strings.TrimSpace(q.Text) == "" && len(q.Tags) == 0
}

// PageResult is one page of the newest-first feed.
type PageResult struct {
	Data          []Post `json:"data"`
	CurrentPage   int    `json:"currentPage"`
	NumberOfPages int    `json:"numberOfPages"`
}

// SearchResult is the unpaginated result of a search.
type SearchResult struct {
	Data []Post `json:"data"`
}

// NumberOfPages returns ceil(total / PageSize).
func NumberOfPages(total int64) int {
	return int((total + PageSize - 1) / PageSize)
}
