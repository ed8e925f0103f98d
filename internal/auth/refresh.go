package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"trainer/internal/provider"
	"trainer/internal/store"
)

// DefaultRefreshTimeout bounds one refresh-grant round trip
const DefaultRefreshTimeout = 15 * time.Second

// ErrNoRefreshToken means the account must be reconnected
var ErrNoRefreshToken = errors.New("no refresh token")

// RefreshReason categorizes a failed refresh
type RefreshReason string

const (
	ReasonInvalidGrant  RefreshReason = "invalid_grant"
	ReasonNetwork       RefreshReason = "network"
	ReasonMisconfigured RefreshReason = "misconfigured"
	ReasonPersist       RefreshReason = "persist"
)

// RefreshError is returned when a refresh grant fails. The stored credential is
// left untouched.
type RefreshError struct {
	Reason RefreshReason
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed (%s): %v", e.Reason, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// CredentialWriter persists refreshed tokens
type CredentialWriter interface {
	UpsertCredential(ctx context.Context, c *store.Credential) error
}

// Refresher exchanges refresh tokens for new access tokens
type Refresher struct {
	configs    map[provider.Name]*oauth2.Config
	store      CredentialWriter
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewRefresher creates a Refresher for the given provider configs
func NewRefresher(configs map[provider.Name]*oauth2.Config, store CredentialWriter, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		configs: configs,
		store:   store,
		timeout: DefaultRefreshTimeout,
		logger:  logger,
		now:     time.Now,
	}
}

// WithHTTPClient sets the client used for token requests
func (r *Refresher) WithHTTPClient(hc *http.Client) *Refresher {
	r.httpClient = hc
	return r
}

// Refresh performs one refresh grant and persists the result. Access token,
// refresh token and expiry are written in a single upsert.
func (r *Refresher) Refresh(ctx context.Context, cred store.Credential) (store.Credential, error) {
	if !cred.HasRefreshToken() {
		return cred, ErrNoRefreshToken
	}

	cfg, ok := r.configs[provider.Name(cred.Provider)]
	if !ok || cfg.ClientID == "" || cfg.Endpoint.TokenURL == "" {
		return cred, &RefreshError{Reason: ReasonMisconfigured, Err: fmt.Errorf("no oauth client configured for %s", cred.Provider)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if r.httpClient != nil {
		reqCtx = context.WithValue(reqCtx, oauth2.HTTPClient, r.httpClient)
	}

	// an empty access token forces the source to refresh
	src := cfg.TokenSource(reqCtx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := src.Token()
	if err != nil {
		if ctx.Err() != nil {
			return cred, ctx.Err()
		}
		return cred, classifyRefreshError(err)
	}

	updated := cred
	updated.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		updated.RefreshToken = token.RefreshToken
	}
	updated.ExpiresAt = nil
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		updated.ExpiresAt = &expiry
	}
	updated.UpdatedAt = r.now().UTC()

	if err := r.store.UpsertCredential(ctx, &updated); err != nil {
		return cred, &RefreshError{Reason: ReasonPersist, Err: err}
	}

	r.logger.Info("refreshed access token",
		zap.String("provider", cred.Provider),
		zap.String("account", cred.ExternalAccountID),
	)
	return updated, nil
}

func classifyRefreshError(err error) *RefreshError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return &RefreshError{Reason: ReasonInvalidGrant, Err: err}
		}
		if re.Response != nil {
			switch re.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return &RefreshError{Reason: ReasonInvalidGrant, Err: err}
			}
		}
	}
	return &RefreshError{Reason: ReasonNetwork, Err: err}
}
