package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/contextos/internal/model"
)

// PostgresPromptRepo はPostgreSQLを使用したプロンプトリポジトリ。
// variablesはTEXT[]カラムにpq.Arrayで格納する。
type PostgresPromptRepo struct {
	db *sql.DB
}

// NewPostgresPromptRepo はPostgresPromptRepoを生成する。
func NewPostgresPromptRepo(db *sql.DB) *PostgresPromptRepo {
	return &PostgresPromptRepo{db: db}
}

const promptColumns = `id, title, content, category, variables, user_id, created_at, updated_at`

// Create はプロンプトを作成する。
func (r *PostgresPromptRepo) Create(ctx context.Context, prompt *model.Prompt) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO prompts (`+promptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		prompt.ID, prompt.Title, prompt.Content, prompt.Category,
		pq.Array(prompt.Variables), prompt.UserID, prompt.CreatedAt, prompt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create prompt: %w", err)
	}
	return nil
}

// FindByIDAndOwner はIDと所有者が一致するプロンプトを取得する。見つからない場合はnilを返す。
func (r *PostgresPromptRepo) FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.Prompt, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+promptColumns+`
		 FROM prompts
		 WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	)

	prompt, err := scanPrompt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find prompt: %w", err)
	}
	return prompt, nil
}

// ListByOwner は所有者のプロンプト一覧を返す。
// 検索語はLIKEのワイルドカードとして解釈させないため、strposでリテラル部分一致を判定する。
// 大文字小文字の畳み込みはDBのLC_CTYPEに依存させず、ICUのルートロケールで行う。
// 同一updated_atの並びはidの降順で固定する。
func (r *PostgresPromptRepo) ListByOwner(ctx context.Context, ownerID string, filter model.PromptFilter) ([]*model.Prompt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+promptColumns+`
		 FROM prompts
		 WHERE user_id = $1
		   AND ($2::text = '' OR category = $2::text)
		   AND ($3::text = '' OR strpos(lower(title COLLATE "und-x-icu"), lower($3::text COLLATE "und-x-icu")) > 0
			        OR strpos(lower(content COLLATE "und-x-icu"), lower($3::text COLLATE "und-x-icu")) > 0)
		 ORDER BY updated_at DESC, id DESC`,
		ownerID, filter.Category, filter.Search,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]*model.Prompt, 0)
	for rows.Next() {
		prompt, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, prompt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompts: %w", err)
	}

	return prompts, nil
}

// Update はIDと所有者が一致するプロンプトを上書きする。
// 同一プロンプトへの同時更新は後勝ちとなる。
func (r *PostgresPromptRepo) Update(ctx context.Context, prompt *model.Prompt) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE prompts
		 SET title = $3, content = $4, category = $5, variables = $6, updated_at = $7
		 WHERE id = $1 AND user_id = $2`,
		prompt.ID, prompt.UserID, prompt.Title, prompt.Content, prompt.Category,
		pq.Array(prompt.Variables), prompt.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update prompt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// DeleteByIDAndOwner はIDと所有者が一致するプロンプトを物理削除する。
func (r *PostgresPromptRepo) DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM prompts WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete prompt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(s rowScanner) (*model.Prompt, error) {
	p := &model.Prompt{}
	var variables pq.StringArray
	if err := s.Scan(
		&p.ID, &p.Title, &p.Content, &p.Category, &variables,
		&p.UserID, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Variables = []string(variables)
	if p.Variables == nil {
		p.Variables = []string{}
	}
	return p, nil
}

// compile-time interface check
var _ PromptRepository = (*PostgresPromptRepo)(nil)
