package domain

// Insight is a short fact or observation attached to a topic.
type Insight struct {
	ID      string
	TopicID string
	Content string
}

// SourceArticle is an existing article used as input in direct mode.
type SourceArticle struct {
	ID      string
	Title   string
	Content string
	URL     string
}
