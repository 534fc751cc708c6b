package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/contextos/internal/model"
	"github.com/hitoshi/contextos/internal/prompt"
)

// maxRequestBodyBytes はリクエストボディの上限サイズ。
const maxRequestBodyBytes = 1 << 20

// PromptServiceInterface はプロンプトハンドラーが必要とするサービスインターフェース。
type PromptServiceInterface interface {
	Create(ctx context.Context, ownerID string, input prompt.CreateInput) (*model.Prompt, error)
	List(ctx context.Context, ownerID string, filter model.PromptFilter) ([]*model.Prompt, error)
	Get(ctx context.Context, ownerID, id string) (*model.Prompt, error)
	Update(ctx context.Context, ownerID, id string, patch model.PromptPatch) (*model.Prompt, error)
	Delete(ctx context.Context, ownerID, id string) error
	Generate(ctx context.Context, ownerID, id string, bindings map[string]string) (*model.GenerateResult, error)
}

// PromptHandler はプロンプト管理のHTTPハンドラー。
type PromptHandler struct {
	service PromptServiceInterface
}

// NewPromptHandler はPromptHandlerを生成する。
func NewPromptHandler(service PromptServiceInterface) *PromptHandler {
	return &PromptHandler{service: service}
}

// createPromptRequest はプロンプト作成リクエストのボディ。
// 必須フィールドの欠落を検出するためポインタで受ける。
type createPromptRequest struct {
	Title    *string `json:"title"`
	Content  *string `json:"content"`
	Category *string `json:"category"`
}

// updatePromptRequest はプロンプト部分更新リクエストのボディ。
// 省略またはnullのフィールドは変更しない。
type updatePromptRequest struct {
	Title    *string `json:"title"`
	Content  *string `json:"content"`
	Category *string `json:"category"`
}

// promptResponse はプロンプトのAPIレスポンス。
type promptResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	Variables []string  `json:"variables"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type generateResponse struct {
	GeneratedContent string            `json:"generated_content"`
	VariablesUsed    map[string]string `json:"variables_used"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toPromptResponse(p *model.Prompt) promptResponse {
	variables := p.Variables
	if variables == nil {
		variables = []string{}
	}
	return promptResponse{
		ID:        p.ID,
		Title:     p.Title,
		Content:   p.Content,
		Category:  p.Category,
		Variables: variables,
		UserID:    p.UserID,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// CreatePrompt はプロンプトを作成する。
// POST /api/prompts
func (h *PromptHandler) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createPromptRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity, model.NewRequestInvalidError("Invalid request body"))
		return
	}
	if missing := missingField(req); missing != "" {
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity, model.NewRequestInvalidError(missing+" is required"))
		return
	}

	p, err := h.service.Create(r.Context(), user.ID, prompt.CreateInput{
		Title:    *req.Title,
		Content:  *req.Content,
		Category: *req.Category,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPromptResponse(p))
}

func missingField(req createPromptRequest) string {
	switch {
	case req.Title == nil:
		return "title"
	case req.Content == nil:
		return "content"
	case req.Category == nil:
		return "category"
	default:
		return ""
	}
}

// ListPrompts はユーザーのプロンプト一覧を返す。
// GET /api/prompts?category=xxx&search=yyy
func (h *PromptHandler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	prompts, err := h.service.List(r.Context(), user.ID, model.PromptFilter{
		Category: query.Get("category"),
		Search:   query.Get("search"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]promptResponse, len(prompts))
	for i, p := range prompts {
		resp[i] = toPromptResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPrompt はプロンプトを1件返す。
// GET /api/prompts/{id}
func (h *PromptHandler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	p, err := h.service.Get(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPromptResponse(p))
}

// UpdatePrompt はプロンプトを部分更新する。
// PUT /api/prompts/{id}
func (h *PromptHandler) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req updatePromptRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity, model.NewRequestInvalidError("Invalid request body"))
		return
	}

	p, err := h.service.Update(r.Context(), user.ID, chi.URLParam(r, "id"), model.PromptPatch{
		Title:    req.Title,
		Content:  req.Content,
		Category: req.Category,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPromptResponse(p))
}

// DeletePrompt はプロンプトを削除する。
// DELETE /api/prompts/{id}
func (h *PromptHandler) DeletePrompt(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Prompt deleted successfully"})
}

// GeneratePrompt はプロンプトのテンプレートに変数を適用した結果を返す。
// ボディは変数名から値への文字列マップ。空ボディは変数なしとして扱う。
// POST /api/prompts/{id}/generate
func (h *PromptHandler) GeneratePrompt(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var bindings map[string]string
	if err := decodeJSONBody(r, &bindings); err != nil {
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity,
			model.NewRequestInvalidError("Body must be a JSON object of string values"))
		return
	}

	result, err := h.service.Generate(r.Context(), user.ID, chi.URLParam(r, "id"), bindings)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		GeneratedContent: result.GeneratedContent,
		VariablesUsed:    result.VariablesUsed,
	})
}

// decodeJSONBody はリクエストボディをデコードする。空ボディはエラーとしない。
func decodeJSONBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
