package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed story store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) FindCached(ctx context.Context, level ReadingLevel, theme string) (*Story, []Question, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT id::text, title, body, theme, reading_level, language, word_count, reading_minutes, vocabulary, metadata, created_at
		 FROM stories
		 WHERE reading_level = $1 AND lower(theme) = lower($2)
		 ORDER BY created_at DESC, id ASC
		 LIMIT 1`,
		string(level),
		theme,
	)

	st, err := scanStory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("find cached story: %w", err)
	}

	qs, err := s.questionsFor(ctx, st.ID)
	if err != nil {
		return nil, nil, err
	}
	return st, qs, nil
}

func (s *PostgresStore) CreateWithQuestions(ctx context.Context, st *Story, qs []Question) (*Story, []Question, error) {
	if st == nil {
		return nil, nil, fmt.Errorf("story is nil")
	}
	if len(qs) == 0 {
		return nil, nil, fmt.Errorf("story must be created with its questions")
	}

	// The transaction covers only the database writes; generation latency
	// never holds database locks.
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	vocab, err := json.Marshal(st.Vocabulary)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal vocabulary: %w", err)
	}
	meta, err := json.Marshal(st.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}

	created := *st
	err = tx.QueryRow(ctx,
		`INSERT INTO stories (title, body, theme, reading_level, language, word_count, reading_minutes, vocabulary, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb)
		 RETURNING id::text, created_at`,
		st.Title,
		st.Text,
		st.Theme,
		string(st.ReadingLevel),
		st.Language,
		st.WordCount,
		st.ReadingMinutes,
		string(vocab),
		string(meta),
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert story: %w", err)
	}

	createdQs := make([]Question, len(qs))
	for i, q := range qs {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal options: %w", err)
		}
		answer, err := json.Marshal(q.Answer)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal answer: %w", err)
		}

		q.StoryID = created.ID
		err = tx.QueryRow(ctx,
			`INSERT INTO questions (story_id, question_type, body, options, answer, explanation)
			 VALUES ($1::uuid, $2, $3, $4::jsonb, $5::jsonb, $6)
			 RETURNING id::text, created_at`,
			created.ID,
			string(q.Type),
			q.Text,
			string(options),
			string(answer),
			nullIfEmpty(q.Explanation),
		).Scan(&q.ID, &q.CreatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("insert question %d: %w", i, err)
		}
		createdQs[i] = q
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit story with questions: %w", err)
	}

	return &created, createdQs, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, level ReadingLevel, limit int) ([]Story, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	query := `SELECT id::text, title, body, theme, reading_level, language, word_count, reading_minutes, vocabulary, metadata, created_at
		 FROM stories`
	args := []any{}
	if level != "" {
		query += ` WHERE reading_level = $1`
		args = append(args, string(level))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id ASC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		out = append(out, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateMetadata(ctx context.Context, storyID string, metadata map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	cmd, err := s.pool.Exec(ctx,
		`UPDATE stories SET metadata = $2::jsonb WHERE id = $1::uuid`,
		storyID,
		string(meta),
	)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("story not found: %s", storyID)
	}
	return nil
}

func (s *PostgresStore) questionsFor(ctx context.Context, storyID string) ([]Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, story_id::text, question_type, body, options, answer, explanation, created_at
		 FROM questions
		 WHERE story_id = $1::uuid
		 ORDER BY created_at ASC, id ASC`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var q Question
		var qtype string
		var options, answer []byte
		var explanation *string
		if err := rows.Scan(&q.ID, &q.StoryID, &qtype, &q.Text, &options, &answer, &explanation, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.Type = QuestionType(qtype)
		if len(options) > 0 {
			if err := json.Unmarshal(options, &q.Options); err != nil {
				return nil, fmt.Errorf("decode options: %w", err)
			}
		}
		if len(answer) > 0 {
			if err := json.Unmarshal(answer, &q.Answer); err != nil {
				return nil, fmt.Errorf("decode answer: %w", err)
			}
		}
		if explanation != nil {
			q.Explanation = *explanation
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

func scanStory(row pgx.Row) (*Story, error) {
	var st Story
	var level string
	var vocab, meta []byte

	err := row.Scan(
		&st.ID,
		&st.Title,
		&st.Text,
		&st.Theme,
		&level,
		&st.Language,
		&st.WordCount,
		&st.ReadingMinutes,
		&vocab,
		&meta,
		&st.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	st.ReadingLevel = ReadingLevel(level)
	if len(vocab) > 0 {
		if err := json.Unmarshal(vocab, &st.Vocabulary); err != nil {
			return nil, fmt.Errorf("decode vocabulary: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &st.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &st, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
