package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"contentfactory/internal/domain"
	"contentfactory/internal/infra"
	"contentfactory/internal/sqlinline"
)

// ArticleRepositoryPG implements domain.ArticleRepository.
type ArticleRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewArticleRepository(sql infra.SQLExecutor) *ArticleRepositoryPG {
	return &ArticleRepositoryPG{sql: sql}
}

// SaveArticle inserts the article and returns the generated id.
func (r *ArticleRepositoryPG) SaveArticle(ctx context.Context, article *domain.Article) (string, error) {
	if article == nil {
		return "", fmt.Errorf("article is required")
	}
	meta := article.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	imageURLs := article.ImageURLs
	if imageURLs == nil {
		imageURLs = []string{}
	}
	tags := article.Tags
	if tags == nil {
		tags = []string{}
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertArticle,
		article.TaskID,
		article.Title,
		article.Summary,
		article.Body,
		article.WordCount,
		imageURLs,
		article.Platform,
		article.Style,
		tags,
		metaJSON,
	)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("insert article: %w", err)
	}
	article.ID = id
	return id, nil
}

var _ domain.ArticleRepository = (*ArticleRepositoryPG)(nil)
