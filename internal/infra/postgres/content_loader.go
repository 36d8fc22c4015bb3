package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"study-session-engine/internal/domain"
)

// ContentLoader loads transcripts and key concepts from Postgres.
type ContentLoader struct {
	pool *pgxpool.Pool
}

func NewContentLoader(pool *pgxpool.Pool) *ContentLoader {
	return &ContentLoader{pool: pool}
}

func (l *ContentLoader) LoadContent(ctx context.Context, contentID string) (domain.Content, error) {
	content := domain.Content{ID: contentID}
	var concepts []byte
	err := l.pool.QueryRow(ctx,
		`SELECT title, transcript, key_concepts FROM content WHERE id=$1`, contentID,
	).Scan(&content.Title, &content.Transcript, &concepts)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Content{}, domain.ErrContentNotFound
	}
	if err != nil {
		return domain.Content{}, fmt.Errorf("load content: %w", err)
	}
	if err := json.Unmarshal(concepts, &content.KeyConcepts); err != nil {
		return domain.Content{}, fmt.Errorf("unmarshal key concepts: %w", err)
	}
	return content, nil
}

// SaveContent upserts a content item. Used by seeding and tests.
func (l *ContentLoader) SaveContent(ctx context.Context, content domain.Content) error {
	concepts, err := json.Marshal(content.KeyConcepts)
	if err != nil {
		return fmt.Errorf("marshal key concepts: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
INSERT INTO content (id, title, transcript, key_concepts) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, transcript=EXCLUDED.transcript, key_concepts=EXCLUDED.key_concepts`,
		content.ID, content.Title, content.Transcript, concepts)
	if err != nil {
		return fmt.Errorf("save content: %w", err)
	}
	return nil
}
