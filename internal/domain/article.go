package domain

import "time"

// Article is the assembled, illustrated output of a completed task.
type Article struct {
	ID        string
	TaskID    string
	Title     string
	Summary   string
	Body      string
	WordCount int
	ImageURLs []string
	Platform  string
	Style     string
	Tags      []string
	Metadata  map[string]any
	CreatedAt time.Time
}
