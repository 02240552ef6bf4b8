package models

import "time"

// ArticleStatus represents publication state of informational content.
type ArticleStatus string

// Possible article statuses.
const (
	ArticleStatusDraft     ArticleStatus = "DRAFT"
	ArticleStatusPublished ArticleStatus = "PUBLISHED"
)

// Article is an informational content entry shown on the public portal.
type Article struct {
	ID          string        `db:"id" json:"id"`
	Title       string        `db:"title" json:"title"`
	Slug        string        `db:"slug" json:"slug"`
	Body        string        `db:"body" json:"body"`
	Status      ArticleStatus `db:"status" json:"status"`
	AuthorID    string        `db:"author_id" json:"author_id"`
	PublishedAt *time.Time    `db:"published_at" json:"published_at,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// ArticleFilter provides filters for listing articles.
type ArticleFilter struct {
	Status   ArticleStatus
	Search   string
	Page     int
	PageSize int
}
