package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"prodtrack.org/internal/auth"
	"prodtrack.org/internal/obs"
)

type client struct {
	base string
	http *http.Client
}

func main() {
	log := obs.Logger()

	base := os.Getenv("PRODTRACK_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	adminUser := envOr("PRODTRACK_SMOKE_ADMIN", "admin")
	adminPass := envOr("PRODTRACK_SMOKE_ADMIN_PASSWORD", "admin-secret")

	c := &client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 5 * time.Second}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Bootstraps the first admin on an empty store; conflicts mean it already exists.
	status, _, err := c.do(ctx, http.MethodPost, "/v1/users", "", map[string]any{
		"username": adminUser, "password": adminPass, "roles": []string{auth.RoleAdmin},
	})
	if err != nil {
		log.Fatalf("register admin: %v", err)
	}
	if status != http.StatusCreated && status != http.StatusBadRequest {
		log.Fatalf("register admin: unexpected status %d", status)
	}

	adminToken, err := c.login(ctx, adminUser, adminPass)
	if err != nil {
		log.Fatalf("admin login: %v", err)
	}

	supName := "smoke-" + uuid.NewString()[:8]
	var sup auth.Account
	status, body, err := c.do(ctx, http.MethodPost, "/v1/users", "", map[string]any{
		"username": supName, "password": "smoke-password", "roles": []string{auth.RoleSupervisor},
	})
	if err != nil || status != http.StatusCreated {
		log.Fatalf("register supervisor: status=%d err=%v body=%s", status, err, body)
	}
	if err := json.Unmarshal(body, &sup); err != nil {
		log.Fatalf("decode supervisor: %v", err)
	}
	if sup.Status != auth.StatusPending {
		log.Fatalf("expected pending supervisor, got %s", sup.Status)
	}

	status, body, err = c.do(ctx, http.MethodPost, "/v1/users/"+sup.ID+"/approve", adminToken, nil)
	if err != nil || status != http.StatusOK {
		log.Fatalf("approve supervisor: status=%d err=%v body=%s", status, err, body)
	}

	supToken, err := c.login(ctx, supName, "smoke-password")
	if err != nil {
		log.Fatalf("supervisor login: %v", err)
	}
	var me struct {
		EffectiveRoles []string `json:"effective_roles"`
	}
	status, body, err = c.do(ctx, http.MethodGet, "/v1/auth/me", supToken, nil)
	if err != nil || status != http.StatusOK {
		log.Fatalf("me: status=%d err=%v", status, err)
	}
	if err := json.Unmarshal(body, &me); err != nil {
		log.Fatalf("decode me: %v", err)
	}
	if len(me.EffectiveRoles) != 1 || me.EffectiveRoles[0] != auth.RoleSupervisor {
		log.Fatalf("unexpected effective roles %v", me.EffectiveRoles)
	}

	status, _, err = c.do(ctx, http.MethodGet, "/v1/users", supToken, nil)
	if err != nil || status != http.StatusForbidden {
		log.Fatalf("supervisor listing users: status=%d err=%v, want 403", status, err)
	}

	status, _, err = c.do(ctx, http.MethodDelete, "/v1/users/"+sup.ID, adminToken, nil)
	if err != nil || status != http.StatusNoContent {
		log.Fatalf("delete supervisor: status=%d err=%v", status, err)
	}

	fmt.Printf("✅ auth smoke test passed: supervisor=%s\n", sup.ID)
}

func (c *client) login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var tok auth.Token
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (c *client) do(ctx context.Context, method, path, token string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
