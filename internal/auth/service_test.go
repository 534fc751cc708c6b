package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/contextos/internal/model"
	"github.com/hitoshi/contextos/internal/repository"
)

// --- モック定義 ---

type mockProvider struct {
	resolveFn func(ctx context.Context, token string) ProviderResult
	calls     int
}

func (m *mockProvider) ResolveSession(ctx context.Context, token string) ProviderResult {
	m.calls++
	if m.resolveFn != nil {
		return m.resolveFn(ctx, token)
	}
	return ProviderResult{Outcome: OutcomeUnavailable}
}

type mockSessionRepo struct {
	createFn      func(ctx context.Context, session *model.Session) error
	findByTokenFn func(ctx context.Context, token string) (*model.Session, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	if m.findByTokenFn != nil {
		return m.findByTokenFn(ctx, token)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// --- compile-time interface checks ---
var _ IdentityProvider = (*mockProvider)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)

type recordingMetrics struct {
	outcomes []string
}

func (r *recordingMetrics) RecordHTTPRequest(string, string, int, time.Duration) {}
func (r *recordingMetrics) RecordAuthProviderCall(outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}
func (r *recordingMetrics) RecordPromptOperation(string) {}
func (r *recordingMetrics) RecordSessionsSwept(int64)    {}

func authenticated(identity Identity) *mockProvider {
	return &mockProvider{
		resolveFn: func(_ context.Context, _ string) ProviderResult {
			return ProviderResult{Outcome: OutcomeAuthenticated, Identity: &identity}
		},
	}
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(provider IdentityProvider, users repository.UserRepository, sessions repository.SessionRepository) *Service {
	svc := NewService(provider, users, sessions, nil, ServiceConfig{SessionTTL: 7 * 24 * time.Hour})
	svc.now = func() time.Time { return fixedNow }
	return svc
}

// --- EstablishSession ---

func TestEstablishSession_NewUser_CreatesUserAndSession(t *testing.T) {
	users := repository.NewMemoryUserRepo()
	sessions := repository.NewMemorySessionRepo()
	provider := authenticated(Identity{
		ID: "prov-1", Email: "alice@example.com", Name: "Alice", Picture: "https://img/alice", SessionToken: "tok-1",
	})
	svc := newTestService(provider, users, sessions)

	result, err := svc.EstablishSession(context.Background(), "provider-token")
	if err != nil {
		t.Fatalf("EstablishSession returned error: %v", err)
	}

	if result.SessionToken != "tok-1" {
		t.Errorf("SessionToken = %q, want %q", result.SessionToken, "tok-1")
	}
	if result.User.Email != "alice@example.com" || result.User.Name != "Alice" {
		t.Errorf("User = %+v, want provider identity", result.User)
	}

	user, _ := users.FindByEmail(context.Background(), "alice@example.com")
	if user == nil || user.ID != "prov-1" {
		t.Fatalf("user = %+v, want created with provider id", user)
	}

	session, _ := sessions.FindByToken(context.Background(), "tok-1")
	if session == nil {
		t.Fatal("expected session to be stored")
	}
	if session.UserID != "prov-1" {
		t.Errorf("session.UserID = %q, want %q", session.UserID, "prov-1")
	}
	if want := fixedNow.Add(7 * 24 * time.Hour); !session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, want)
	}
}

// 既存emailのユーザーは上書きされず、セッションは既存ユーザーのIDに紐づく。
func TestEstablishSession_ExistingUser_NotOverwritten(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepo()
	sessions := repository.NewMemorySessionRepo()
	_, _ = users.CreateIfAbsent(ctx, &model.User{ID: "stored-id", Email: "alice@example.com", Name: "Old Name"})

	provider := authenticated(Identity{
		ID: "prov-2", Email: "alice@example.com", Name: "New Name", SessionToken: "tok-2",
	})
	svc := newTestService(provider, users, sessions)

	result, err := svc.EstablishSession(ctx, "provider-token")
	if err != nil {
		t.Fatalf("EstablishSession returned error: %v", err)
	}
	if result.User.Name != "New Name" {
		t.Errorf("response user name = %q, want provider payload %q", result.User.Name, "New Name")
	}

	user, _ := users.FindByEmail(ctx, "alice@example.com")
	if user.Name != "Old Name" || user.ID != "stored-id" {
		t.Errorf("stored user = %+v, want unchanged", user)
	}

	session, _ := sessions.FindByToken(ctx, "tok-2")
	if session.UserID != "stored-id" {
		t.Errorf("session.UserID = %q, want %q", session.UserID, "stored-id")
	}
}

func TestEstablishSession_MultipleSessionsPerUser(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepo()
	sessions := repository.NewMemorySessionRepo()

	for _, tok := range []string{"tok-a", "tok-b"} {
		svc := newTestService(authenticated(Identity{ID: "u", Email: "u@example.com", SessionToken: tok}), users, sessions)
		if _, err := svc.EstablishSession(ctx, "provider-token"); err != nil {
			t.Fatalf("EstablishSession(%s) returned error: %v", tok, err)
		}
	}

	svc := newTestService(nil, users, sessions)
	for _, tok := range []string{"tok-a", "tok-b"} {
		if _, err := svc.Authenticate(ctx, tok); err != nil {
			t.Errorf("Authenticate(%s) returned error: %v", tok, err)
		}
	}
}

func TestEstablishSession_ProviderOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		outcome  Outcome
		wantCode string
	}{
		{"拒否はAUTH_PROVIDER_REJECTED", OutcomeRejected, model.ErrCodeAuthProviderRejected},
		{"到達不能はAUTH_PROVIDER_UNAVAILABLE", OutcomeUnavailable, model.ErrCodeAuthProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockProvider{
				resolveFn: func(_ context.Context, _ string) ProviderResult {
					return ProviderResult{Outcome: tt.outcome, Reason: "test"}
				},
			}
			sessionCreated := false
			sessions := &mockSessionRepo{
				createFn: func(_ context.Context, _ *model.Session) error {
					sessionCreated = true
					return nil
				},
			}
			rec := &recordingMetrics{}
			svc := NewService(provider, repository.NewMemoryUserRepo(), sessions, rec, ServiceConfig{})

			_, err := svc.EstablishSession(context.Background(), "provider-token")
			if !model.HasCode(err, tt.wantCode) {
				t.Fatalf("error = %v, want code %s", err, tt.wantCode)
			}
			if sessionCreated {
				t.Error("session must not be created on provider failure")
			}
			if len(rec.outcomes) != 1 || rec.outcomes[0] != tt.outcome.String() {
				t.Errorf("recorded outcomes = %v, want [%s]", rec.outcomes, tt.outcome)
			}
		})
	}
}

func TestEstablishSession_EmptyToken_ReturnsRequestInvalid(t *testing.T) {
	provider := &mockProvider{}
	svc := newTestService(provider, repository.NewMemoryUserRepo(), repository.NewMemorySessionRepo())

	_, err := svc.EstablishSession(context.Background(), "")
	if !model.HasCode(err, model.ErrCodeRequestInvalid) {
		t.Fatalf("error = %v, want REQUEST_INVALID", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times, want 0", provider.calls)
	}
}

func TestEstablishSession_SessionSaveError_Propagates(t *testing.T) {
	saveErr := errors.New("db down")
	sessions := &mockSessionRepo{
		createFn: func(_ context.Context, _ *model.Session) error { return saveErr },
	}
	svc := newTestService(authenticated(Identity{ID: "u", Email: "u@example.com", SessionToken: "t"}), repository.NewMemoryUserRepo(), sessions)

	_, err := svc.EstablishSession(context.Background(), "provider-token")
	if !errors.Is(err, saveErr) {
		t.Fatalf("error = %v, want wrapped %v", err, saveErr)
	}
}

// --- Authenticate ---

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepo()
	_, _ = users.CreateIfAbsent(ctx, &model.User{ID: "u1", Email: "u1@example.com"})

	sessions := repository.NewMemorySessionRepo()
	_ = sessions.Create(ctx, &model.Session{SessionToken: "valid", UserID: "u1", ExpiresAt: fixedNow.Add(time.Hour)})
	_ = sessions.Create(ctx, &model.Session{SessionToken: "expired", UserID: "u1", ExpiresAt: fixedNow.Add(-time.Second)})
	_ = sessions.Create(ctx, &model.Session{SessionToken: "edge", UserID: "u1", ExpiresAt: fixedNow})
	_ = sessions.Create(ctx, &model.Session{SessionToken: "orphan", UserID: "ghost", ExpiresAt: fixedNow.Add(time.Hour)})

	svc := newTestService(nil, users, sessions)

	tests := []struct {
		name        string
		token       string
		wantUserID  string
		wantMessage string
	}{
		{"有効なセッション", "valid", "u1", ""},
		{"期限ちょうどはまだ有効", "edge", "u1", ""},
		{"トークンなし", "", "", "Session ID required"},
		{"未知のトークン", "unknown", "", "Invalid or expired session"},
		{"期限切れ", "expired", "", "Invalid or expired session"},
		{"ユーザー不在", "orphan", "", "User not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := svc.Authenticate(ctx, tt.token)
			if tt.wantMessage == "" {
				if err != nil {
					t.Fatalf("Authenticate returned error: %v", err)
				}
				if user.ID != tt.wantUserID {
					t.Errorf("user.ID = %q, want %q", user.ID, tt.wantUserID)
				}
				return
			}

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *model.APIError", err)
			}
			if apiErr.Code != model.ErrCodeUnauthenticated {
				t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeUnauthenticated)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestAuthenticate_RepositoryError_IsNotUnauthenticated(t *testing.T) {
	repoErr := errors.New("connection refused")
	sessions := &mockSessionRepo{
		findByTokenFn: func(_ context.Context, _ string) (*model.Session, error) { return nil, repoErr },
	}
	svc := newTestService(nil, repository.NewMemoryUserRepo(), sessions)

	_, err := svc.Authenticate(context.Background(), "tok")
	if !errors.Is(err, repoErr) {
		t.Fatalf("error = %v, want wrapped repository error", err)
	}
	if model.HasCode(err, model.ErrCodeUnauthenticated) {
		t.Error("storage failure must not be reported as UNAUTHENTICATED")
	}
}

func TestNewService_DefaultsSessionTTL(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, ServiceConfig{})
	if svc.config.SessionTTL != DefaultSessionTTL {
		t.Errorf("SessionTTL = %v, want %v", svc.config.SessionTTL, DefaultSessionTTL)
	}
}
