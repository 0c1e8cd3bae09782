package repo

import (
	"context"

	"github.com/jackc/pgx/v5"

	"contentfactory/internal/domain"
	"contentfactory/internal/infra"
	"contentfactory/internal/sqlinline"
)

// MaxTopicInsights bounds how many insights are pulled for a topic.
const MaxTopicInsights = 20

// SourceRepositoryPG implements domain.SourceRepository.
type SourceRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewSourceRepository(sql infra.SQLExecutor) *SourceRepositoryPG {
	return &SourceRepositoryPG{sql: sql}
}

// LoadInsights returns the insights with the given ids in request order.
func (r *SourceRepositoryPG) LoadInsights(ctx context.Context, ids []string) ([]domain.Insight, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.sql.Query(ctx, sqlinline.QSelectInsightsByIDs, ids)
	if err != nil {
		return nil, err
	}
	return scanInsights(rows)
}

// LoadInsightsByTopic returns the oldest insights recorded for a topic.
func (r *SourceRepositoryPG) LoadInsightsByTopic(ctx context.Context, topicID string) ([]domain.Insight, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectInsightsByTopic, topicID, MaxTopicInsights)
	if err != nil {
		return nil, err
	}
	return scanInsights(rows)
}

// LoadSourceArticle fetches the article used in direct mode.
func (r *SourceRepositoryPG) LoadSourceArticle(ctx context.Context, id string) (*domain.SourceArticle, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectSourceArticle, id)
	var src domain.SourceArticle
	if err := row.Scan(&src.ID, &src.Title, &src.Content, &src.URL); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &src, nil
}

func scanInsights(rows pgx.Rows) ([]domain.Insight, error) {
	defer rows.Close()
	var out []domain.Insight
	for rows.Next() {
		var in domain.Insight
		if err := rows.Scan(&in.ID, &in.TopicID, &in.Content); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

var _ domain.SourceRepository = (*SourceRepositoryPG)(nil)
