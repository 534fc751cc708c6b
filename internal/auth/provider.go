package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SessionHeader は外部IdPのセッショントークンおよび本サービスのセッショントークンを運ぶヘッダー。
const SessionHeader = "X-Session-ID"

// maxProviderResponseSize はIdPレスポンスボディの読み取り上限。
const maxProviderResponseSize = 1 << 20

// Outcome は外部IdPへのセッション照会の結果種別。
type Outcome int

const (
	// OutcomeAuthenticated はトークンが有効でIDが解決できたことを示す。
	OutcomeAuthenticated Outcome = iota + 1
	// OutcomeRejected はIdPがトークンを拒否したことを示す。
	OutcomeRejected
	// OutcomeUnavailable はIdPに到達できない、またはIdPの応答が利用できないことを示す。
	OutcomeUnavailable
)

// String はメトリクスやログのラベル用の文字列を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Identity は外部IdPが返すID情報。
type Identity struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Picture      string `json:"picture"`
	SessionToken string `json:"session_token"`
}

// ProviderResult はセッション照会の結果。
// OutcomeがOutcomeAuthenticatedの場合のみIdentityが設定される。
// Reasonはログ用の補足で、クライアントには返さない。
type ProviderResult struct {
	Outcome  Outcome
	Identity *Identity
	Reason   string
}

// IdentityProvider は外部IdPのセッション照会のインターフェース。
// 失敗はerrorではなくProviderResultのOutcomeで表す。
type IdentityProvider interface {
	ResolveSession(ctx context.Context, token string) ProviderResult
}

// HTTPProviderConfig はHTTPIdentityProviderの設定。
type HTTPProviderConfig struct {
	URL     string
	Timeout time.Duration

	// テスト用に差し替え可能なHTTPクライアント
	Client *http.Client
}

// HTTPIdentityProvider はHTTP経由で外部IdPのセッション情報を照会する。
type HTTPIdentityProvider struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPIdentityProvider はHTTPIdentityProviderを生成する。
// Timeoutが0以下の場合は10秒とする。
func NewHTTPIdentityProvider(config HTTPProviderConfig) *HTTPIdentityProvider {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPIdentityProvider{
		url:     config.URL,
		timeout: timeout,
		client:  client,
	}
}

// ResolveSession はトークンをX-Session-IDヘッダーに載せてIdPに照会する。
// 4xxはOutcomeRejected、通信エラー・タイムアウト・5xx・不正なペイロードはOutcomeUnavailableとなる。
func (p *HTTPIdentityProvider) ResolveSession(ctx context.Context, token string) ProviderResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return unavailable(fmt.Sprintf("failed to create provider request: %v", err))
	}
	req.Header.Set(SessionHeader, token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return unavailable("provider request timed out")
		}
		return unavailable(fmt.Sprintf("provider request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return unavailable(fmt.Sprintf("failed to read provider response: %v", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ProviderResult{
			Outcome: OutcomeRejected,
			Reason:  fmt.Sprintf("provider rejected session with status %d", resp.StatusCode),
		}
	default:
		return unavailable(fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}

	var identity Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return unavailable(fmt.Sprintf("failed to parse provider response: %v", err))
	}
	if identity.ID == "" || identity.Email == "" || identity.SessionToken == "" {
		return unavailable("provider response is missing id, email or session_token")
	}

	return ProviderResult{Outcome: OutcomeAuthenticated, Identity: &identity}
}

func unavailable(reason string) ProviderResult {
	return ProviderResult{Outcome: OutcomeUnavailable, Reason: reason}
}

// compile-time interface check
var _ IdentityProvider = (*HTTPIdentityProvider)(nil)
