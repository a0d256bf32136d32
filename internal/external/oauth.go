package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"searchpulse/internal/types"
)

const defaultTokenEndpoint = "https://oauth2.googleapis.com/token"

// TokenRefresher exchanges a refresh token for a fresh access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken types.SecretString) (types.TokenSet, error)
}

// GoogleOAuthClientConfig configures the OAuth client.
type GoogleOAuthClientConfig struct {
	ClientID      string
	ClientSecret  types.SecretString
	TokenEndpoint string // defaults to the Google OAuth2 token endpoint
	HTTPTimeout   time.Duration
	Logger        *slog.Logger
}

// GoogleOAuthClient refreshes OAuth access tokens against the Google
// authorization server. Both reporting APIs share the same token endpoint;
// the granted scopes determine which APIs the access token can reach.
type GoogleOAuthClient struct {
	base          *BaseClient
	clientID      string
	clientSecret  types.SecretString
	tokenEndpoint string
	logger        *slog.Logger
}

var _ TokenRefresher = (*GoogleOAuthClient)(nil)

// NewGoogleOAuthClient creates an OAuth client for token refresh.
func NewGoogleOAuthClient(cfg GoogleOAuthClientConfig, opts ...BaseClientOption) *GoogleOAuthClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := cfg.TokenEndpoint
	if endpoint == "" {
		endpoint = defaultTokenEndpoint
	}
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &GoogleOAuthClient{
		base: NewBaseClient(
			&http.Client{Timeout: timeout},
			"google-oauth",
			DefaultRetryPolicy(),
			"searchpulse/1.0",
			opts...,
		),
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		tokenEndpoint: endpoint,
		logger:        logger,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Refresh exchanges the refresh token for a new access token. A missing
// refresh_token in the response is normal: the authorization server rotates
// refresh tokens rarely, and the caller keeps the stored one when the
// returned TokenSet carries an empty RefreshToken.
func (c *GoogleOAuthClient) Refresh(ctx context.Context, refreshToken types.SecretString) (types.TokenSet, error) {
	if refreshToken.Unmask() == "" {
		return types.TokenSet{}, types.NewAppError(
			types.ErrCodeCredentialInvalid,
			"stored credential has no refresh token",
			nil,
		)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken.Unmask()},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret.Unmask()},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return types.TokenSet{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.base.Do(req)
	if err != nil {
		return types.TokenSet{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.TokenSet{}, types.NewAppError(types.ErrCodeUpstreamTransient, "failed to read token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return types.TokenSet{}, c.mapTokenError(ctx, resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return types.TokenSet{}, types.NewAppError(types.ErrCodeUpstreamTransient, "failed to decode token response", err)
	}
	if tr.AccessToken == "" {
		return types.TokenSet{}, types.NewAppError(types.ErrCodeUpstreamTransient, "token response missing access_token", nil)
	}

	return types.TokenSet{
		AccessToken:  types.SecretString(tr.AccessToken),
		RefreshToken: types.SecretString(tr.RefreshToken),
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// mapTokenError classifies a non-200 token endpoint response. invalid_grant
// means the user revoked access or the refresh token expired: the credential
// is permanently dead and retrying cannot help, so it maps to
// credential_invalid and the caller skips the tenant until re-authorization.
func (c *GoogleOAuthClient) mapTokenError(ctx context.Context, status int, body []byte) error {
	var te tokenErrorResponse
	_ = json.Unmarshal(body, &te)

	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		if te.Error == "invalid_grant" || te.Error == "invalid_client" || status == http.StatusUnauthorized {
			c.logger.WarnContext(ctx, "oauth refresh rejected; credential requires re-authorization",
				"status", status,
				"oauth_error", te.Error,
			)
			return types.NewAppError(
				types.ErrCodeCredentialInvalid,
				fmt.Sprintf("token refresh rejected: %s", te.Error),
				nil,
			).WithDetails(map[string]any{"oauth_error": te.Error, "status": status})
		}
	}

	c.logger.ErrorContext(ctx, "oauth refresh failed",
		"status", status,
		"body", truncateBody(body),
	)
	return types.NewAppError(
		types.ErrCodeUpstreamTransient,
		fmt.Sprintf("token endpoint returned %d", status),
		nil,
	).WithDetails(map[string]any{"status": status})
}
