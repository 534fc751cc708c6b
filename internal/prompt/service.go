// Package prompt はプロンプトの所有者スコープのCRUDとテンプレート展開を提供する。
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/contextos/internal/metrics"
	"github.com/hitoshi/contextos/internal/model"
	"github.com/hitoshi/contextos/internal/repository"
	"github.com/hitoshi/contextos/internal/security"
	"github.com/hitoshi/contextos/internal/template"
)

// メトリクスの操作ラベル
const (
	opCreate   = "create"
	opUpdate   = "update"
	opDelete   = "delete"
	opGenerate = "generate"
)

// CreateInput はプロンプト作成の入力。
type CreateInput struct {
	Title    string
	Content  string
	Category string
}

// Service はプロンプトに関するビジネスロジックを提供する。
// すべての操作は呼び出し元ユーザーの所有するプロンプトに限定される。
type Service struct {
	repo      repository.PromptRepository
	sanitizer security.TitleSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
	newID     func() string
}

// NewService はServiceを生成する。
// sanitizerがnilの場合は標準のTitleSanitizerを、collectorがnilの場合はメトリクスなしを使う。
func NewService(repo repository.PromptRepository, sanitizer security.TitleSanitizer, collector metrics.MetricsCollector) *Service {
	if sanitizer == nil {
		sanitizer = security.NewTitleSanitizer()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   collector,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Create はプロンプトを作成する。
// variablesはcontentから抽出し、created_atとupdated_atは同一時刻とする。
func (s *Service) Create(ctx context.Context, ownerID string, input CreateInput) (*model.Prompt, error) {
	now := s.now().UTC()
	p := &model.Prompt{
		ID:        s.newID(),
		Title:     s.sanitizer.Sanitize(input.Title),
		Content:   input.Content,
		Category:  input.Category,
		Variables: template.ExtractVariables(input.Content),
		UserID:    ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create prompt: %w", err)
	}

	s.metrics.RecordPromptOperation(opCreate)
	slog.Info("prompt created",
		slog.String("user_id", ownerID),
		slog.String("prompt_id", p.ID),
		slog.Int("variables", len(p.Variables)),
	)
	return p, nil
}

// List は呼び出し元のプロンプト一覧をupdated_at降順で返す。
func (s *Service) List(ctx context.Context, ownerID string, filter model.PromptFilter) ([]*model.Prompt, error) {
	prompts, err := s.repo.ListByOwner(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	return prompts, nil
}

// Get は呼び出し元が所有するプロンプトを返す。
// 存在しない場合も他ユーザーの所有である場合もPromptNotFoundとなる。
func (s *Service) Get(ctx context.Context, ownerID, id string) (*model.Prompt, error) {
	p, err := s.repo.FindByIDAndOwner(ctx, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find prompt: %w", err)
	}
	if p == nil {
		return nil, model.NewPromptNotFoundError()
	}
	return p, nil
}

// Update は指定されたフィールドのみを変更する。
// updated_atは常に更新し、contentが指定された場合は新しいcontentからvariablesを再計算する。
func (s *Service) Update(ctx context.Context, ownerID, id string, patch model.PromptPatch) (*model.Prompt, error) {
	p, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		p.Title = s.sanitizer.Sanitize(*patch.Title)
	}
	if patch.Content != nil {
		p.Content = *patch.Content
		p.Variables = template.ExtractVariables(p.Content)
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	p.UpdatedAt = s.now().UTC()

	updated, err := s.repo.Update(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to update prompt: %w", err)
	}
	if !updated {
		// 取得後に削除された
		return nil, model.NewPromptNotFoundError()
	}

	s.metrics.RecordPromptOperation(opUpdate)
	slog.Info("prompt updated",
		slog.String("user_id", ownerID),
		slog.String("prompt_id", id),
		slog.Bool("content_changed", patch.Content != nil),
	)
	return p, nil
}

// Delete はプロンプトを物理削除する。
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	deleted, err := s.repo.DeleteByIDAndOwner(ctx, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete prompt: %w", err)
	}
	if !deleted {
		return model.NewPromptNotFoundError()
	}

	s.metrics.RecordPromptOperation(opDelete)
	slog.Info("prompt deleted",
		slog.String("user_id", ownerID),
		slog.String("prompt_id", id),
	)
	return nil
}

// Generate はプロンプトのcontentにバインディングを適用した結果を返す。
// VariablesUsedには指定されたバインディングをそのまま返す。
func (s *Service) Generate(ctx context.Context, ownerID, id string, bindings map[string]string) (*model.GenerateResult, error) {
	p, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if bindings == nil {
		bindings = map[string]string{}
	}

	s.metrics.RecordPromptOperation(opGenerate)
	return &model.GenerateResult{
		GeneratedContent: template.Render(p.Content, bindings),
		VariablesUsed:    bindings,
	}, nil
}
