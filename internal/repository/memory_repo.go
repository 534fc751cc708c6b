package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/contextos/internal/model"
)

// インメモリ実装はSTORAGE_DRIVER=memoryでのローカル起動と、サービス層テストの差し替え用。
// 各リポジトリはmutexで保護され、呼び出し元とポインタを共有しないようコピーを返す。

// MemoryUserRepo はメモリ上のユーザーリポジトリ。
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]model.User // key: id
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]model.User)}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// FindByEmail は指定emailのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

// CreateIfAbsent はIDとemailのどちらも未登録の場合のみユーザーを作成する。
func (r *MemoryUserRepo) CreateIfAbsent(_ context.Context, user *model.User) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return false, nil
	}
	for _, u := range r.users {
		if u.Email == user.Email {
			return false, nil
		}
	}
	r.users[user.ID] = *user
	return true, nil
}

// MemorySessionRepo はメモリ上のセッションリポジトリ。
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]model.Session // key: session token
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{sessions: make(map[string]model.Session)}
}

// Create はセッションを作成する。同じトークンが存在する場合は上書きする。
func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[session.SessionToken]; ok {
		existing.UserID = session.UserID
		existing.ExpiresAt = session.ExpiresAt
		r.sessions[session.SessionToken] = existing
		return nil
	}
	r.sessions[session.SessionToken] = *session
	return nil
}

// FindByToken は指定トークンのセッションを取得する。見つからない場合はnilを返す。
func (r *MemorySessionRepo) FindByToken(_ context.Context, token string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[token]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// DeleteExpired はbefore時点で期限切れのセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for token, s := range r.sessions {
		if s.ExpiresAt.Before(before) {
			delete(r.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}

// MemoryPromptRepo はメモリ上のプロンプトリポジトリ。
type MemoryPromptRepo struct {
	mu      sync.RWMutex
	prompts map[string]model.Prompt // key: id
}

// NewMemoryPromptRepo はMemoryPromptRepoを生成する。
func NewMemoryPromptRepo() *MemoryPromptRepo {
	return &MemoryPromptRepo{prompts: make(map[string]model.Prompt)}
}

// Create はプロンプトを作成する。
func (r *MemoryPromptRepo) Create(_ context.Context, prompt *model.Prompt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prompts[prompt.ID] = copyPrompt(*prompt)
	return nil
}

// FindByIDAndOwner はIDと所有者が一致するプロンプトを取得する。見つからない場合はnilを返す。
func (r *MemoryPromptRepo) FindByIDAndOwner(_ context.Context, id, ownerID string) (*model.Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.prompts[id]
	if !ok || p.UserID != ownerID {
		return nil, nil
	}
	out := copyPrompt(p)
	return &out, nil
}

// ListByOwner は所有者のプロンプト一覧をupdated_at降順、id降順で返す。
func (r *MemoryPromptRepo) ListByOwner(_ context.Context, ownerID string, filter model.PromptFilter) ([]*model.Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(filter.Search)

	prompts := make([]*model.Prompt, 0)
	for _, p := range r.prompts {
		if p.UserID != ownerID {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Title), search) &&
			!strings.Contains(strings.ToLower(p.Content), search) {
			continue
		}
		out := copyPrompt(p)
		prompts = append(prompts, &out)
	}

	sort.Slice(prompts, func(i, j int) bool {
		if !prompts[i].UpdatedAt.Equal(prompts[j].UpdatedAt) {
			return prompts[i].UpdatedAt.After(prompts[j].UpdatedAt)
		}
		return prompts[i].ID > prompts[j].ID
	})

	return prompts, nil
}

// Update はIDと所有者が一致するプロンプトを上書きする。
func (r *MemoryPromptRepo) Update(_ context.Context, prompt *model.Prompt) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.prompts[prompt.ID]
	if !ok || existing.UserID != prompt.UserID {
		return false, nil
	}

	updated := copyPrompt(*prompt)
	updated.CreatedAt = existing.CreatedAt
	r.prompts[prompt.ID] = updated
	return true, nil
}

// DeleteByIDAndOwner はIDと所有者が一致するプロンプトを削除する。
func (r *MemoryPromptRepo) DeleteByIDAndOwner(_ context.Context, id, ownerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.prompts[id]
	if !ok || p.UserID != ownerID {
		return false, nil
	}
	delete(r.prompts, id)
	return true, nil
}

func copyPrompt(p model.Prompt) model.Prompt {
	p.Variables = append([]string{}, p.Variables...)
	return p
}

// MemoryCategoryRepo はメモリ上のカテゴリリポジトリ。
// 挿入順を保持し、Listはその順で返す。
type MemoryCategoryRepo struct {
	mu         sync.RWMutex
	categories []model.Category
}

// NewMemoryCategoryRepo はMemoryCategoryRepoを生成する。
func NewMemoryCategoryRepo() *MemoryCategoryRepo {
	return &MemoryCategoryRepo{}
}

// InsertIfAbsent は同じIDのカテゴリが存在しない場合のみ挿入する。
func (r *MemoryCategoryRepo) InsertIfAbsent(_ context.Context, category *model.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.categories {
		if c.ID == category.ID {
			return nil
		}
	}
	r.categories = append(r.categories, *category)
	return nil
}

// List は全カテゴリを挿入順で返す。
func (r *MemoryCategoryRepo) List(_ context.Context) ([]*model.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	categories := make([]*model.Category, len(r.categories))
	for i := range r.categories {
		c := r.categories[i]
		categories[i] = &c
	}
	return categories, nil
}

// --- compile-time interface checks ---

var _ UserRepository = (*MemoryUserRepo)(nil)
var _ SessionRepository = (*MemorySessionRepo)(nil)
var _ PromptRepository = (*MemoryPromptRepo)(nil)
var _ CategoryRepository = (*MemoryCategoryRepo)(nil)
