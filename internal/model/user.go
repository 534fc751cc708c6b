// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 外部IdPで初回認証に成功した時点で作成され、emailで一意に識別される。
type User struct {
	ID        string
	Email     string
	Name      string
	Picture   string
	CreatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// SessionTokenは外部IdPが発行した不透明なトークンで、1セッションを一意に識別する。
// 同一ユーザーが複数の有効なセッションを同時に保持してもよい。
type Session struct {
	SessionToken string
	UserID       string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// IsExpired は指定時刻においてセッションが期限切れかどうかを返す。
// 現在時刻がExpiresAtを超えた時点で無効となる。
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
