package githubapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrTokenAcquisition marks failures to mint or exchange an installation
// token. Handlers must fail their job on this rather than proceed without
// auth.
var ErrTokenAcquisition = errors.New("installation token acquisition failed")

const (
	tokenRequestTimeout = 10 * time.Second
	acceptGitHubJSON    = "application/vnd.github+json"
)

type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenSource issues and caches installation access tokens. The cache lives
// in Redis so web and worker processes share it. A token within the refresh
// margin of expiry is never served; concurrent callers on a cold key may
// each mint independently, which GitHub tolerates.
type TokenSource struct {
	auth   *AppAuth
	rdb    *redis.Client
	httpc  *http.Client
	base   string
	margin time.Duration
	now    func() time.Time
}

func NewTokenSource(auth *AppAuth, rdb *redis.Client, apiBase string, margin time.Duration) *TokenSource {
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	return &TokenSource{
		auth:   auth,
		rdb:    rdb,
		httpc:  &http.Client{Timeout: tokenRequestTimeout},
		base:   apiBase,
		margin: margin,
		now:    time.Now,
	}
}

func tokenCacheKey(installationID int64) string {
	return fmt.Sprintf("gh:install:%d:token", installationID)
}

// InstallationToken returns a valid access token for the installation,
// serving from cache when the cached token has more than the refresh margin
// of lifetime left.
func (s *TokenSource) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	key := tokenCacheKey(installationID)
	if raw, err := s.rdb.Get(ctx, key).Result(); err == nil {
		var ct cachedToken
		if jsonErr := json.Unmarshal([]byte(raw), &ct); jsonErr == nil && ct.Token != "" {
			if ct.ExpiresAt.After(s.now().Add(s.margin)) {
				return ct.Token, nil
			}
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Int64("installation_id", installationID).Msg("token cache read failed")
	}

	ct, err := s.exchange(ctx, installationID)
	if err != nil {
		return "", err
	}

	if ttl := ct.ExpiresAt.Sub(s.now()); ttl > 0 {
		buf, _ := json.Marshal(ct)
		if err := s.rdb.SetEx(ctx, key, buf, ttl).Err(); err != nil {
			log.Warn().Err(err).Int64("installation_id", installationID).Msg("token cache write failed")
		}
	}
	log.Info().Int64("installation_id", installationID).Time("expires_at", ct.ExpiresAt).Msg("minted installation token")
	return ct.Token, nil
}

func (s *TokenSource) exchange(ctx context.Context, installationID int64) (cachedToken, error) {
	assertion, err := s.auth.JWT()
	if err != nil {
		return cachedToken{}, fmt.Errorf("%w: %v", ErrTokenAcquisition, err)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.base, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return cachedToken{}, fmt.Errorf("%w: %v", ErrTokenAcquisition, err)
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", acceptGitHubJSON)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return cachedToken{}, fmt.Errorf("%w: %v", ErrTokenAcquisition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return cachedToken{}, fmt.Errorf("%w: exchange returned %d: %s", ErrTokenAcquisition, resp.StatusCode, body)
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return cachedToken{}, fmt.Errorf("%w: decode exchange response: %v", ErrTokenAcquisition, err)
	}
	if out.Token == "" {
		return cachedToken{}, fmt.Errorf("%w: exchange returned empty token", ErrTokenAcquisition)
	}
	return cachedToken{Token: out.Token, ExpiresAt: out.ExpiresAt}, nil
}
