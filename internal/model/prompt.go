package model

import "time"

// Prompt はユーザーが保存する再利用可能なプロンプトテンプレートを表す。
// Variablesはcontentから抽出したプレースホルダー名の集合で、
// contentが変わるたびに再計算される（永続化時に不整合を起こさない）。
type Prompt struct {
	ID        string
	Title     string
	Content   string
	Category  string
	Variables []string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PromptPatch はプロンプトの部分更新内容を表す。
// nilのフィールドは変更しない。
type PromptPatch struct {
	Title    *string
	Content  *string
	Category *string
}

// IsEmpty は変更対象のフィールドが1つもないかどうかを返す。
func (p PromptPatch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.Category == nil
}

// PromptFilter はプロンプト一覧取得時の絞り込み条件を表す。
// 空文字列のフィールドは条件として扱わない。
type PromptFilter struct {
	// Category はカテゴリIDの完全一致条件。
	Category string
	// Search はtitleまたはcontentに対する大文字小文字を区別しない部分一致条件。
	Search string
}

// GenerateResult はテンプレート展開の結果を表す。
type GenerateResult struct {
	GeneratedContent string
	// VariablesUsed は呼び出し元が指定したバインディングをそのまま返す。
	// content中に存在しない名前も含まれる。
	VariablesUsed map[string]string
}
