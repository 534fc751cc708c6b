package model

import "time"

// Category はプロンプトの分類を表す。
// 起動時にシードされる固定の参照データで、エンドユーザーは変更できない。
type Category struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}
