package talks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"skill-sharing/server/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS talks (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	title     TEXT NOT NULL UNIQUE,
	presenter TEXT NOT NULL,
	summary   TEXT NOT NULL,
	comments  TEXT NOT NULL DEFAULT '[]'
)`

// SQLiteStore 是 store.driver=sqlite 时的实现。
// 顺序由自增 id 决定；upsert 走 ON CONFLICT，不会改变已有行的 id。
// 评论以 JSON 文本存在 comments 列，整条 Talk 始终整体读写。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite 打开（必要时创建）数据库并建表。
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite 只允许单写者；单连接同时保证 :memory: 库在连接之间不丢失。
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create talks table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) FindAll(ctx context.Context) ([]model.Talk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT title, presenter, summary, comments FROM talks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query talks: %w", err)
	}
	defer rows.Close()

	all := []model.Talk{}
	for rows.Next() {
		talk, err := scanTalk(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, talk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate talks: %w", err)
	}
	return all, nil
}

func (s *SQLiteStore) FindByTitle(ctx context.Context, title string) (model.Talk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT title, presenter, summary, comments FROM talks WHERE title = ?`, title)
	talk, err := scanTalk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Talk{}, ErrNotFound
	}
	return talk, err
}

func (s *SQLiteStore) Save(ctx context.Context, talk model.Talk) error {
	comments, err := json.Marshal(talk.Normalize().Comments)
	if err != nil {
		return fmt.Errorf("encode comments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO talks (title, presenter, summary, comments) VALUES (?, ?, ?, ?)
		ON CONFLICT(title) DO UPDATE SET
			presenter = excluded.presenter,
			summary = excluded.summary,
			comments = excluded.comments`,
		talk.Title, talk.Presenter, talk.Summary, string(comments))
	if err != nil {
		return fmt.Errorf("save talk %q: %w", talk.Title, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteByTitle(ctx context.Context, title string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM talks WHERE title = ?`, title)
	if err != nil {
		return false, fmt.Errorf("delete talk %q: %w", title, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete talk %q: %w", title, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTalk(row rowScanner) (model.Talk, error) {
	var (
		talk     model.Talk
		comments string
	)
	if err := row.Scan(&talk.Title, &talk.Presenter, &talk.Summary, &comments); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Talk{}, err
		}
		return model.Talk{}, fmt.Errorf("scan talk: %w", err)
	}
	if err := json.Unmarshal([]byte(comments), &talk.Comments); err != nil {
		return model.Talk{}, fmt.Errorf("decode comments of %q: %w", talk.Title, err)
	}
	return talk.Normalize(), nil
}
