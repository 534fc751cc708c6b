// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, prompt, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeRequestInvalid          = "REQUEST_INVALID"
	ErrCodeUnauthenticated         = "UNAUTHENTICATED"
	ErrCodeAuthProviderRejected    = "AUTH_PROVIDER_REJECTED"
	ErrCodeAuthProviderUnavailable = "AUTH_PROVIDER_UNAVAILABLE"
	ErrCodePromptNotFound          = "PROMPT_NOT_FOUND"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewRequestInvalidError は必須ヘッダーやフィールドの欠落などの入力エラーを生成する。
func NewRequestInvalidError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRequestInvalid,
		Message:  reason,
		Category: "validation",
		Action:   "Check the request headers and body and try again.",
	}
}

// NewUnauthenticatedError はセッションの欠落・不正・期限切れを表すエラーを生成する。
// 原因ごとにメッセージのみが異なり、エラー種別は同一とする。
func NewUnauthenticatedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  reason,
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewAuthProviderRejectedError は外部IdPがトークンを拒否した場合のエラーを生成する。
func NewAuthProviderRejectedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthProviderRejected,
		Message:  "Invalid session",
		Category: "auth",
		Action:   "Sign in again with the identity provider.",
	}
}

// NewAuthProviderUnavailableError は外部IdPに到達できない場合のエラーを生成する。
// 呼び出し元による再試行が可能。
func NewAuthProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthProviderUnavailable,
		Message:  "Authentication service unavailable",
		Category: "system",
		Action:   "Wait a moment and try again.",
	}
}

// NewPromptNotFoundError はプロンプト未検出エラーを生成する。
// 他ユーザーが所有するプロンプトの場合も同一のエラーを返し、存在を漏らさない。
func NewPromptNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodePromptNotFound,
		Message:  "Prompt not found",
		Category: "prompt",
		Action:   "Check the prompt ID.",
	}
}

// HasCode はerrチェーン中にcodeを持つAPIErrorが含まれるかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
