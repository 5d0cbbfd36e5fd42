package persistence

import (
	"attune/internal/core"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// postgresPatternRepo implements PatternRepository for PostgreSQL.
type postgresPatternRepo struct {
	db *sql.DB
}

func (r *postgresPatternRepo) Upsert(ctx context.Context, userID, keyword string, delta float64, now time.Time) error {
	// Single-statement increment-or-create. Concurrent feedback on the same
	// keyword must not lose updates, so the addition happens in SQL.
	query := `
		INSERT INTO user_patterns (user_id, keyword, weight, feedback_count, decay_periods, updated_at)
		VALUES ($1, $2, $3, 1, 0, $4)
		ON CONFLICT (user_id, keyword) DO UPDATE SET
			weight = user_patterns.weight + EXCLUDED.weight,
			feedback_count = user_patterns.feedback_count + 1,
			decay_periods = 0,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, userID, keyword, delta, now.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert pattern %q: %w", keyword, err)
	}
	return nil
}

func (r *postgresPatternRepo) ListByUser(ctx context.Context, userID string) ([]core.Pattern, error) {
	query := `
		SELECT user_id, keyword, weight, feedback_count, decay_periods, updated_at
		FROM user_patterns
		WHERE user_id = $1
		ORDER BY keyword
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var patterns []core.Pattern
	for rows.Next() {
		var p core.Pattern
		if err := rows.Scan(&p.UserID, &p.Keyword, &p.Weight, &p.FeedbackCount, &p.DecayPeriods, &p.UpdatedAt); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func (r *postgresPatternRepo) ListUsers(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT user_id FROM user_patterns ORDER BY user_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (r *postgresPatternRepo) SetDecayedWeight(ctx context.Context, userID, keyword string, weight float64, periods int) error {
	// updated_at stays as-is: decay is a pure function of the elapsed time
	// since the last feedback-driven update. decay_periods records how much
	// of that elapsed time has already been applied.
	query := `UPDATE user_patterns SET weight = $3, decay_periods = $4 WHERE user_id = $1 AND keyword = $2`
	_, err := r.db.ExecContext(ctx, query, userID, keyword, weight, periods)
	return err
}

func (r *postgresPatternRepo) Delete(ctx context.Context, userID string, keywords []string) error {
	if len(keywords) == 0 {
		return nil
	}
	query := `DELETE FROM user_patterns WHERE user_id = $1 AND keyword = ANY($2)`
	_, err := r.db.ExecContext(ctx, query, userID, pq.Array(keywords))
	return err
}

func (r *postgresPatternRepo) DeleteAll(ctx context.Context, userID string) error {
	query := `DELETE FROM user_patterns WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}

// postgresFeedbackRepo implements FeedbackRepository for PostgreSQL.
type postgresFeedbackRepo struct {
	db *sql.DB
}

func (r *postgresFeedbackRepo) Get(ctx context.Context, userID, articleID string) (*core.Feedback, error) {
	query := `
		SELECT id, user_id, article_id, kind, value, time_spent, estimated_time, created_at, updated_at
		FROM user_feedback
		WHERE user_id = $1 AND article_id = $2
	`
	row := r.db.QueryRowContext(ctx, query, userID, articleID)

	var fb core.Feedback
	err := row.Scan(&fb.ID, &fb.UserID, &fb.ArticleID, &fb.Kind, &fb.Value,
		&fb.TimeSpent, &fb.EstimatedTime, &fb.CreatedAt, &fb.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	return &fb, nil
}

func (r *postgresFeedbackRepo) Upsert(ctx context.Context, fb *core.Feedback) error {
	// The WHERE clause enforces explicit-over-implicit precedence at the
	// storage layer: an implicit write never replaces an explicit row.
	query := `
		INSERT INTO user_feedback
			(id, user_id, article_id, kind, value, time_spent, estimated_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, article_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			value = EXCLUDED.value,
			time_spent = EXCLUDED.time_spent,
			estimated_time = EXCLUDED.estimated_time,
			updated_at = EXCLUDED.updated_at
		WHERE user_feedback.kind <> 'explicit' OR EXCLUDED.kind = 'explicit'
	`
	_, err := r.db.ExecContext(ctx, query,
		fb.ID, fb.UserID, fb.ArticleID, string(fb.Kind), fb.Value,
		fb.TimeSpent, fb.EstimatedTime, fb.CreatedAt.UTC(), fb.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert feedback: %w", err)
	}
	return nil
}

func (r *postgresFeedbackRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM user_feedback WHERE user_id = $1`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return count, nil
}

func (r *postgresFeedbackRepo) DeleteAll(ctx context.Context, userID string) error {
	query := `DELETE FROM user_feedback WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}

// postgresArticleRepo implements ArticleRepository over the aggregator's
// articles table. The engine only reads; ingestion lives elsewhere.
type postgresArticleRepo struct {
	db *sql.DB
}

func (r *postgresArticleRepo) GetText(ctx context.Context, articleID string) (core.ArticleText, error) {
	query := `SELECT id, title, excerpt, content FROM articles WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, articleID)

	var a core.ArticleText
	if err := row.Scan(&a.ID, &a.Title, &a.Excerpt, &a.Content); err != nil {
		if err == sql.ErrNoRows {
			return core.ArticleText{}, ErrNotFound
		}
		return core.ArticleText{}, fmt.Errorf("failed to get article text: %w", err)
	}
	return a, nil
}

func (r *postgresArticleRepo) GetTexts(ctx context.Context, articleIDs []string) (map[string]core.ArticleText, error) {
	if len(articleIDs) == 0 {
		return map[string]core.ArticleText{}, nil
	}

	query := `SELECT id, title, excerpt, content FROM articles WHERE id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(articleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get article texts: %w", err)
	}
	defer rows.Close()

	texts := make(map[string]core.ArticleText, len(articleIDs))
	for rows.Next() {
		var a core.ArticleText
		if err := rows.Scan(&a.ID, &a.Title, &a.Excerpt, &a.Content); err != nil {
			return nil, err
		}
		texts[a.ID] = a
	}
	return texts, rows.Err()
}
