package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/contextos/internal/auth"
	"github.com/hitoshi/contextos/internal/middleware"
	"github.com/hitoshi/contextos/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	EstablishSession(ctx context.Context, providerToken string) (*auth.SessionResult, error)
}

// AuthHandler はセッション交換とプロフィール取得のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// sessionResponse はセッション交換のAPIレスポンス。
// userにはIdPが返したID情報をそのまま載せる。
type sessionResponse struct {
	SessionToken string        `json:"session_token"`
	User         auth.Identity `json:"user"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Picture   string    `json:"picture"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Picture:   u.Picture,
		CreatedAt: u.CreatedAt,
	}
}

// CreateSession はIdPが発行したトークンをこのサービスのセッションに交換する。
// POST /api/auth/session
func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(middleware.SessionHeader)
	if token == "" {
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity,
			model.NewRequestInvalidError("Session ID required"))
		return
	}

	result, err := h.service.EstablishSession(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionToken: result.SessionToken,
		User:         result.User,
	})
}

// Profile は呼び出し元のユーザー情報を返す。
// GET /api/auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}
