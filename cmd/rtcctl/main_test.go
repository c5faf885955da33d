package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func setEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "n")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("LIVEKIT_URL", "wss://lk.example.com")
	t.Setenv("LIVEKIT_API_KEY", "devkey")
	t.Setenv("LIVEKIT_API_SECRET", "devsecret-devsecret-devsecret-32")
	t.Setenv("ANALYSIS_API_URL", "http://analysis:8000")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := RootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenMint(t *testing.T) {
	setEnv(t)

	out, err := run(t, "token", "mint", "--room", "room-1", "--identity", "admin_jane", "--role", "host")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if body["roomName"] != "room-1" || body["livekitUrl"] != "wss://lk.example.com" {
		t.Fatalf("unexpected body %+v", body)
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(body["token"], claims, func(*jwt.Token) (any, error) {
		return []byte("devsecret-devsecret-devsecret-32"), nil
	}); err != nil {
		t.Fatalf("parse token: %v", err)
	}
	video, _ := claims["video"].(map[string]any)
	if claims["sub"] != "admin_jane" || video["roomAdmin"] != true || video["hidden"] != true {
		t.Fatalf("expected hidden admin grant, got %v", claims)
	}
}

func TestTokenMint_RejectsBadInput(t *testing.T) {
	setEnv(t)

	if _, err := run(t, "token", "mint", "--room", "room-1"); err == nil {
		t.Fatalf("expected missing identity to fail")
	}
	if _, err := run(t, "token", "mint", "--room", "room-1", "--identity", "kakao_1", "--role", "b@d"); err == nil {
		t.Fatalf("expected malformed role to fail")
	}
}

func TestTokenOperator(t *testing.T) {
	setEnv(t)

	out, err := run(t, "token", "operator", "--identity", "jane", "--name", "Jane")
	if err != nil {
		t.Fatalf("operator token: %v", err)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}

	access := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(body["accessToken"], access, func(*jwt.Token) (any, error) {
		return []byte("s"), nil
	}); err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if access["identity"] != "jane" || access["role"] != "operator" || access["token_type"] != "access" {
		t.Fatalf("unexpected access claims %v", access)
	}

	refresh := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(body["refreshToken"], refresh, func(*jwt.Token) (any, error) {
		return []byte("s"), nil
	}); err != nil {
		t.Fatalf("parse refresh token: %v", err)
	}
	if refresh["token_type"] != "refresh" || refresh["role"] != nil && refresh["role"] != "" {
		t.Fatalf("refresh token must not carry a role, got %v", refresh)
	}
	if body["refreshExpiresAt"] <= body["expiresAt"] {
		t.Fatalf("refresh must outlive access: %s vs %s", body["refreshExpiresAt"], body["expiresAt"])
	}
}

func TestTokenOperator_RejectsNonStaff(t *testing.T) {
	setEnv(t)

	if _, err := run(t, "token", "operator", "--identity", "kakao_1", "--role", "guardian"); err == nil {
		t.Fatalf("expected non-staff role to be refused")
	}
	if _, err := run(t, "token", "operator"); err == nil {
		t.Fatalf("expected missing identity to fail")
	}
}

func TestTakeover_RequiresRoom(t *testing.T) {
	setEnv(t)
	if _, err := run(t, "takeover", "start"); err == nil {
		t.Fatalf("expected missing room argument to fail")
	}
}

func TestRequiresConfig(t *testing.T) {
	t.Setenv("APP_PORT", "")
	t.Setenv("DB_PORT", "")
	if _, err := run(t, "rooms"); err == nil {
		t.Fatalf("expected config error")
	}
}
