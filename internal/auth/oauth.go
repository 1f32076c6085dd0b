package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type TokenBundle struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	IdToken      string `json:"idToken,omitempty"`
	ExpiresIn    int    `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IdToken      string `json:"id_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Exchange trades an authorization code (plus its PKCE verifier) for
// tokens at the provider's token endpoint.
func (g *Gate) Exchange(ctx context.Context, code, codeVerifier string) (TokenBundle, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {codeVerifier},
		"redirect_uri":  {g.cfg.RedirectURI},
	}

	return g.tokenRequest(ctx, form)
}

// Refresh trades a refresh token for a fresh token bundle.
func (g *Gate) Refresh(ctx context.Context, refreshToken string) (TokenBundle, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	return g.tokenRequest(ctx, form)
}

func (g *Gate) tokenRequest(ctx context.Context, form url.Values) (TokenBundle, error) {
	form.Set("client_id", g.cfg.ClientId)
	form.Set("client_secret", g.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.BaseURL+"/v1/token", strings.NewReader(form.Encode()))
	if err != nil {
		return TokenBundle{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return TokenBundle{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return TokenBundle{}, ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return TokenBundle{}, fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return TokenBundle{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return TokenBundle{}, fmt.Errorf("token response missing access token")
	}

	return TokenBundle{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IdToken:      tr.IdToken,
		ExpiresIn:    tr.ExpiresIn,
		TokenType:    tr.TokenType,
	}, nil
}
