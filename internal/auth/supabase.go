package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SupabaseVerifier resolves a token by asking the Supabase auth API who
// owns it. It is used when no JWT secret is configured.
type SupabaseVerifier struct {
	baseURL string
	anonKey string
	client  *http.Client
}

func NewSupabaseVerifier(baseURL, anonKey string, client *http.Client) *SupabaseVerifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &SupabaseVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  client,
	}
}

type supabaseUser struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	Role        string      `json:"role"`
	AppMetadata AppMetadata `json:"app_metadata"`
}

func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return Claims{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", v.anonKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return Claims{}, fmt.Errorf("error fetching user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Claims{}, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return Claims{}, fmt.Errorf("error fetching user: %s", resp.Status)
	}

	var u supabaseUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return Claims{}, fmt.Errorf("error decoding user response: %w", err)
	}
	if u.ID == "" {
		return Claims{}, ErrInvalidToken
	}

	claims := Claims{Email: u.Email, Role: u.Role, AppMetadata: u.AppMetadata}
	claims.Subject = u.ID
	return claims, nil
}
