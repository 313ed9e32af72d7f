package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityflow/internal/engine"
	"entityflow/internal/metadata"
)

const secret = "test-secret"

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(&metadata.Actor{ID: "42", Roles: []string{"editor"}, Capabilities: []string{"posts.manage"}}, secret, time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken(token, secret)
	require.NoError(t, err)
	actor := claims.Actor("10.0.0.1")
	assert.Equal(t, "42", actor.ID)
	assert.Equal(t, []string{"editor"}, actor.Roles)
	assert.Equal(t, []string{"posts.manage"}, actor.Capabilities)
	assert.Equal(t, "10.0.0.1", actor.IP)
	assert.NotEmpty(t, actor.SessionID)

	_, err = ParseToken(token, "other-secret")
	assert.Error(t, err)

	_, err = IssueToken(nil, secret, time.Minute)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = ParseToken(token, secret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestCSRFBoundToSession(t *testing.T) {
	c := NewCSRF("csrf-secret")
	alice := &metadata.Actor{ID: "alice", SessionID: "s1"}

	token := c.Token(alice)
	assert.True(t, c.Verify(token, alice))
	assert.False(t, c.Verify(token, &metadata.Actor{ID: "alice", SessionID: "s2"}))
	assert.False(t, c.Verify(token, &metadata.Actor{ID: "bob", SessionID: "s1"}))
	assert.False(t, c.Verify("", alice))
	assert.False(t, c.Verify("not-hex", alice))
	assert.False(t, NewCSRF("other").Verify(token, alice))

	assert.True(t, c.Verify(c.Token(nil), nil))
}

func newApp(required bool) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *engine.AppError
			if errors.As(err, &appErr) {
				return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
			}
			return fiber.DefaultErrorHandler(c, err)
		},
	})
	RegisterRoutes(app, NewHandler(NewCSRF("csrf-secret")), Middleware(secret, required))
	app.Get("/admin", Middleware(secret, required), RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func get(t *testing.T, app *fiber.App, path, token string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	return resp.StatusCode, body
}

func TestMiddleware(t *testing.T) {
	app := newApp(false)

	status, body := get(t, app, "/api/_auth/me", "")
	assert.Equal(t, 200, status)
	assert.Nil(t, body["data"])

	token, err := IssueToken(&metadata.Actor{ID: "7", Roles: []string{"admin"}}, secret, time.Minute)
	require.NoError(t, err)
	status, body = get(t, app, "/api/_auth/me", token)
	assert.Equal(t, 200, status)
	assert.Equal(t, "7", body["data"].(map[string]any)["id"])

	status, body = get(t, app, "/api/_auth/me", "garbage")
	assert.Equal(t, 401, status)
	assert.Equal(t, "UNAUTHORIZED", body["error"].(map[string]any)["code"])

	status, _ = get(t, app, "/admin", token)
	assert.Equal(t, 200, status)

	status, _ = get(t, app, "/admin", "")
	assert.Equal(t, 401, status)

	guest, err := IssueToken(&metadata.Actor{ID: "8"}, secret, time.Minute)
	require.NoError(t, err)
	status, _ = get(t, app, "/admin", guest)
	assert.Equal(t, 403, status)
}

func TestRequiredMiddleware(t *testing.T) {
	status, _ := get(t, newApp(true), "/api/_auth/me", "")
	assert.Equal(t, 401, status)
}

func TestCSRFTokenEndpoint(t *testing.T) {
	actor := &metadata.Actor{ID: "5", SessionID: "sess"}
	token, err := IssueToken(actor, secret, time.Minute)
	require.NoError(t, err)

	status, body := get(t, newApp(false), "/api/_auth/csrf", token)
	require.Equal(t, 200, status)
	csrf := body["data"].(map[string]any)["csrf_token"].(string)

	assert.True(t, NewCSRF("csrf-secret").Verify(csrf, &metadata.Actor{ID: "5", SessionID: "sess"}))
}
