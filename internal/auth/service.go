// Package auth は外部IdPとのセッション交換と、セッショントークンによる認可を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/contextos/internal/metrics"
	"github.com/hitoshi/contextos/internal/model"
	"github.com/hitoshi/contextos/internal/repository"
)

// DefaultSessionTTL はセッションのデフォルト有効期間。
const DefaultSessionTTL = 7 * 24 * time.Hour

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration
}

// SessionResult はセッション交換の結果を表す。
type SessionResult struct {
	SessionToken string
	// User はIdPが返したID情報をそのまま保持する。
	User Identity
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider    IdentityProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(
	provider IdentityProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		provider:    provider,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		metrics:     collector,
		config:      config,
		now:         time.Now,
	}
}

// EstablishSession はIdPが発行したトークンをIdPに照会し、本サービスのセッションを発行する。
// 未登録のemailの場合はユーザーを作成する。登録済みユーザーの表示項目は上書きしない。
// セッションは照会のたびに新しい有効期限で保存される。
func (s *Service) EstablishSession(ctx context.Context, providerToken string) (*SessionResult, error) {
	if providerToken == "" {
		return nil, model.NewRequestInvalidError("Session ID required")
	}

	// 1. IdPへの照会
	start := time.Now()
	result := s.provider.ResolveSession(ctx, providerToken)
	s.metrics.RecordAuthProviderCall(result.Outcome.String(), time.Since(start))

	switch result.Outcome {
	case OutcomeAuthenticated:
	case OutcomeRejected:
		slog.Info("identity provider rejected session", slog.String("reason", result.Reason))
		return nil, model.NewAuthProviderRejectedError()
	default:
		slog.Warn("identity provider unavailable", slog.String("reason", result.Reason))
		return nil, model.NewAuthProviderUnavailableError()
	}

	identity := result.Identity
	now := s.now()

	// 2. ユーザーの作成または既存ユーザーの特定
	user, err := s.ensureUser(ctx, identity, now)
	if err != nil {
		return nil, err
	}

	// 3. セッションを発行
	session := &model.Session{
		SessionToken: identity.SessionToken,
		UserID:       user.ID,
		ExpiresAt:    now.Add(s.config.SessionTTL),
		CreatedAt:    now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("session established",
		slog.String("user_id", user.ID),
		slog.Time("expires_at", session.ExpiresAt),
	)

	return &SessionResult{
		SessionToken: session.SessionToken,
		User:         *identity,
	}, nil
}

// ensureUser はemailでユーザーを検索し、存在しなければ作成する。
// 同時ログインで作成が競合した場合は既存レコードを採用する。
func (s *Service) ensureUser(ctx context.Context, identity *Identity, now time.Time) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	newUser := &model.User{
		ID:        identity.ID,
		Email:     identity.Email,
		Name:      identity.Name,
		Picture:   identity.Picture,
		CreatedAt: now,
	}
	created, err := s.userRepo.CreateIfAbsent(ctx, newUser)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if created {
		slog.Info("new user created",
			slog.String("user_id", newUser.ID),
			slog.String("email", newUser.Email),
		)
		return newUser, nil
	}

	// emailまたはIDが競合した: 既存レコードを再取得する
	if user, err = s.userRepo.FindByEmail(ctx, identity.Email); err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		if user, err = s.userRepo.FindByID(ctx, identity.ID); err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
	}
	if user == nil {
		return nil, fmt.Errorf("user for %s could not be created or found", identity.Email)
	}
	return user, nil
}

// Authenticate はセッショントークンに紐づくユーザーを返す。
// トークンの欠落・未知のトークン・期限切れ・ユーザー不在はすべてUnauthenticatedとなり、メッセージのみが異なる。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, model.NewUnauthenticatedError("Session ID required")
	}

	session, err := s.sessionRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.IsExpired(s.now()) {
		return nil, model.NewUnauthenticatedError("Invalid or expired session")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthenticatedError("User not found")
	}

	return user, nil
}
