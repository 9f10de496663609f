package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/memoryvault/client/internal/types"
)

// Me fetches the profile for the credential attached by the transport.
func Me(ctx context.Context, httpClient HTTPClient, baseURL string) (*types.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/auth/me", baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := do(ctx, httpClient, httpReq, "fetch current user")
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "fetch current user", "Could not load profile")
	}
	// Same nested-or-flat shape as the auth responses.
	var ar types.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, err
	}
	return &ar.User, nil
}

// Login exchanges email and password for a credential.
func Login(ctx context.Context, httpClient HTTPClient, baseURL string, req types.LoginRequest) (*types.AuthResponse, error) {
	if err := types.Validate(req); err != nil {
		return nil, asAuthError(err, err.Error())
	}
	ar, err := postAuth(ctx, httpClient, fmt.Sprintf("%s/auth/login", baseURL), req, "login")
	return ar, asAuthError(err, "Login failed")
}

// Register creates an account; the response is treated like a login.
func Register(ctx context.Context, httpClient HTTPClient, baseURL string, req types.RegisterRequest) (*types.AuthResponse, error) {
	if err := types.Validate(req); err != nil {
		return nil, asAuthError(err, err.Error())
	}
	ar, err := postAuth(ctx, httpClient, fmt.Sprintf("%s/auth/register", baseURL), req, "register")
	return ar, asAuthError(err, "Registration failed")
}

func postAuth(ctx context.Context, httpClient HTTPClient, url string, payload any, op string) (*types.AuthResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := do(ctx, httpClient, httpReq, op)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	if !isSuccess(resp.StatusCode) {
		return nil, statusError(resp, op, "")
	}
	var ar types.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if ar.Token == "" {
		return nil, fmt.Errorf("%s: response carried no token", op)
	}
	return &ar, nil
}
