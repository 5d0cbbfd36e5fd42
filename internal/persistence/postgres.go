package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// PostgresDB implements the Database interface for PostgreSQL.
type PostgresDB struct {
	db       *sql.DB
	patterns PatternRepository
	feedback FeedbackRepository
	articles ArticleRepository
}

// NewPostgresDB creates a new PostgreSQL database connection.
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{
		db:       db,
		patterns: &postgresPatternRepo{db: db},
		feedback: &postgresFeedbackRepo{db: db},
		articles: &postgresArticleRepo{db: db},
	}, nil
}

func (p *PostgresDB) Patterns() PatternRepository { return p.patterns }
func (p *PostgresDB) Feedback() FeedbackRepository { return p.feedback }
func (p *PostgresDB) Articles() ArticleRepository { return p.articles }

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) Close() error {
	return p.db.Close()
}
