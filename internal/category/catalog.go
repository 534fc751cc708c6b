// Package category はプロンプト分類用の固定カテゴリ一覧を提供する。
package category

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/contextos/internal/model"
	"github.com/hitoshi/contextos/internal/repository"
)

// Seed は起動時に投入するカテゴリの定義。
type Seed struct {
	ID          string
	Name        string
	Description string
}

// DefaultSeeds は標準の4カテゴリを返す。
func DefaultSeeds() []Seed {
	return []Seed{
		{ID: "content-creation", Name: "Content Creation", Description: "Social media, copywriting"},
		{ID: "development", Name: "Development", Description: "Code prompts, technical"},
		{ID: "business", Name: "Business", Description: "Emails, proposals, analysis"},
		{ID: "general", Name: "General", Description: "Catch-all for misc prompts"},
	}
}

// Catalog はカテゴリの投入と一覧取得を行う。
type Catalog struct {
	repo  repository.CategoryRepository
	seeds []Seed
	now   func() time.Time
}

// NewCatalog はCatalogを生成する。
func NewCatalog(repo repository.CategoryRepository, seeds []Seed) *Catalog {
	return &Catalog{
		repo:  repo,
		seeds: append([]Seed(nil), seeds...),
		now:   time.Now,
	}
}

// Seed は定義済みカテゴリを、同じIDのレコードが存在しない場合のみ挿入する。
// 何度実行しても件数は定義数を超えない。
// created_atは定義順に1マイクロ秒ずつずらし、一覧の並びを定義順に揃える。
func (c *Catalog) Seed(ctx context.Context) error {
	base := c.now().UTC().Truncate(time.Microsecond)
	for i, s := range c.seeds {
		category := &model.Category{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			CreatedAt:   base.Add(time.Duration(i) * time.Microsecond),
		}
		if err := c.repo.InsertIfAbsent(ctx, category); err != nil {
			return fmt.Errorf("failed to seed category %s: %w", s.ID, err)
		}
	}

	slog.Info("categories seeded", slog.Int("count", len(c.seeds)))
	return nil
}

// List は全カテゴリを返す。
func (c *Catalog) List(ctx context.Context) ([]*model.Category, error) {
	categories, err := c.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}
