// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/contextos/internal/middleware"
	"github.com/hitoshi/contextos/internal/model"
)

// providerRetryAfterSeconds はIdP到達不能時にクライアントへ提示する再試行までの秒数。
const providerRetryAfterSeconds = 5

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでレスポンスを書き込む。
// 再試行可能なエラーにはRetry-Afterヘッダーを付与する。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if statusCode == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(providerRetryAfterSeconds))
	}
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeRequestInvalid:
		return http.StatusUnprocessableEntity
	case model.ErrCodeUnauthenticated, model.ErrCodeAuthProviderRejected:
		return http.StatusUnauthorized
	case model.ErrCodeAuthProviderUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodePromptNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// currentUser はセッションミドルウェアが注入したユーザーを取得する。
// 取得できない場合は401を書き込みfalseを返す。
func currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError("Session ID required"))
		return nil, false
	}
	return user, true
}
