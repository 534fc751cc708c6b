// Package repository はデータ永続化のインターフェースを定義する。
//
// エンティティごとに型付きの操作のみを公開し、任意のクエリを渡す口は設けない。
// プロンプトの読み書きは常に (id, 所有者) の組で絞り込まれる。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/contextos/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は指定emailのユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateIfAbsent はemailが未登録の場合のみユーザーを作成する。
	// 作成した場合はtrue、既に存在した場合はfalseを返す。既存レコードは上書きしない。
	CreateIfAbsent(ctx context.Context, user *model.User) (bool, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	// 同じトークンのセッションが既に存在する場合はユーザーIDと有効期限を上書きする。
	Create(ctx context.Context, session *model.Session) error

	// FindByToken は指定トークンのセッションを取得する。見つからない場合はnilを返す。
	// 期限切れのセッションも返す。有効性の判定は呼び出し元が行う。
	FindByToken(ctx context.Context, token string) (*model.Session, error)

	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PromptRepository はプロンプトデータの永続化インターフェース。
// すべての読み取り・更新・削除は所有者IDで絞り込まれる。
type PromptRepository interface {
	// Create はプロンプトを作成する。
	Create(ctx context.Context, prompt *model.Prompt) error

	// FindByIDAndOwner はIDと所有者が一致するプロンプトを取得する。
	// 存在しない場合も他ユーザーの所有である場合もnilを返す。
	FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.Prompt, error)

	// ListByOwner は所有者のプロンプト一覧をupdated_at降順で返す。
	// filterのCategoryは完全一致、Searchはtitleまたはcontentの大文字小文字を区別しない部分一致。
	ListByOwner(ctx context.Context, ownerID string, filter model.PromptFilter) ([]*model.Prompt, error)

	// Update はprompt.IDとprompt.UserIDが一致するレコードを上書きする。
	// 対象が存在しない場合はfalseを返す。
	Update(ctx context.Context, prompt *model.Prompt) (bool, error)

	// DeleteByIDAndOwner はIDと所有者が一致するプロンプトを削除する。
	// 対象が存在しない場合はfalseを返す。
	DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error)
}

// CategoryRepository はカテゴリデータの永続化インターフェース。
type CategoryRepository interface {
	// InsertIfAbsent は同じIDのカテゴリが存在しない場合のみ挿入する。
	InsertIfAbsent(ctx context.Context, category *model.Category) error

	// List は全カテゴリを安定した順序で返す。
	List(ctx context.Context) ([]*model.Category, error)
}
