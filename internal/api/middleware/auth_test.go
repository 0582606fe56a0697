package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testKeyID  = "test-key-cb"
	testIssuer = "https://idp.test/realms/cobranzas"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) []byte {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, []string{"gestiones:write"}, testLogger())
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = testIssuer
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	claims["iat"] = jwt.NewNumericDate(time.Now())

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func userToken(t *testing.T, key *rsa.PrivateKey, sub, username string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "preferred_username": username}
	if len(roles) > 0 {
		claims["realm_access"] = map[string]any{"roles": roles}
	}
	return signToken(t, key, claims)
}

// serve прогоняет запрос через middleware и возвращает claims из контекста.
func serve(auth *JWTAuth, token string, extra ...func(http.Handler) http.Handler) (*httptest.ResponseRecorder, *AuthClaims) {
	var got *AuthClaims
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	for i := len(extra) - 1; i >= 0; i-- {
		h = extra[i](h)
	}
	h = auth.Middleware()(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/promises", http.NoBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func TestJWTAuth_ValidUserToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	rec, claims := serve(auth, userToken(t, key, "uuid-1", "jperez", "offline_access", "operador", "admin"))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if claims == nil {
		t.Fatal("claims не найдены в контексте")
	}
	if claims.SubjectType != SubjectTypeUser {
		t.Errorf("ожидался SubjectType=user, получен %s", claims.SubjectType)
	}
	if claims.Role != "admin" {
		t.Errorf("ожидалась роль admin, получена %q", claims.Role)
	}
	if claims.UserID() != "jperez" {
		t.Errorf("ожидался UserID jperez, получен %s", claims.UserID())
	}
}

func TestJWTAuth_UserIDFallsBackToSubject(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	_, claims := serve(auth, userToken(t, key, "uuid-2", "", "operador"))
	if claims == nil {
		t.Fatal("claims не найдены в контексте")
	}
	if claims.UserID() != "uuid-2" {
		t.Errorf("ожидался UserID uuid-2, получен %s", claims.UserID())
	}
}

func TestJWTAuth_ServiceAccount(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	tok := signToken(t, key, jwt.MapClaims{
		"sub":       "sa-1",
		"client_id": "dialer",
		"scope":     "profile gestiones:write",
	})
	_, claims := serve(auth, tok)
	if claims == nil {
		t.Fatal("claims не найдены в контексте")
	}
	if claims.SubjectType != SubjectTypeSA {
		t.Errorf("ожидался SubjectType=service_account, получен %s", claims.SubjectType)
	}
	if !claims.CanIngest {
		t.Error("ожидалось право загрузки по scope gestiones:write")
	}
	if claims.UserID() != "dialer" {
		t.Errorf("ожидался UserID dialer, получен %s", claims.UserID())
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	key := generateTestKey(t)
	other := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	tests := []struct {
		name   string
		header string
	}{
		{"без заголовка", ""},
		{"не Bearer", "Basic abc"},
		{"пустой токен", "Bearer "},
		{"мусор", "Bearer not-a-jwt"},
		{"просрочен", "Bearer " + signToken(t, key, jwt.MapClaims{
			"sub": "u", "exp": jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})},
		{"чужой issuer", "Bearer " + signToken(t, key, jwt.MapClaims{
			"sub": "u", "iss": "https://evil.test",
		})},
		{"чужой ключ", "Bearer " + userToken(t, other, "u", "x", "admin")},
		{"без sub", "Bearer " + signToken(t, key, jwt.MapClaims{"preferred_username": "x"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				t.Error("handler не должен вызываться")
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/promises", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался 401, получен %d", rec.Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	sa := signToken(t, key, jwt.MapClaims{"sub": "sa", "client_id": "dialer", "scope": "gestiones:write"})

	tests := []struct {
		name  string
		token string
		min   string
		want  int
	}{
		{"operador к admin", userToken(t, key, "u", "op", "operador"), "admin", http.StatusForbidden},
		{"admin к admin", userToken(t, key, "u", "boss", "admin"), "admin", http.StatusOK},
		{"super-admin к admin", userToken(t, key, "u", "root", "super-admin"), "admin", http.StatusOK},
		{"без роли", userToken(t, key, "u", "nobody"), "operador", http.StatusForbidden},
		{"сервисный аккаунт", sa, "operador", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := serve(auth, tt.token, RequireRole(tt.min))
			if rec.Code != tt.want {
				t.Errorf("хотели %d, получили %d", tt.want, rec.Code)
			}
		})
	}
}

func TestRequireRoleOrIngest(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"vip", userToken(t, key, "u", "vip", "operador-vip"), http.StatusOK},
		{"operador", userToken(t, key, "u", "op", "operador"), http.StatusForbidden},
		{"scope загрузки", signToken(t, key, jwt.MapClaims{
			"sub": "sa", "client_id": "dialer", "scope": "gestiones:write",
		}), http.StatusOK},
		{"чужой scope", signToken(t, key, jwt.MapClaims{
			"sub": "sa", "client_id": "crm", "scope": "profile",
		}), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := serve(auth, tt.token, RequireRoleOrIngest("operador-vip"))
			if rec.Code != tt.want {
				t.Errorf("хотели %d, получили %d", tt.want, rec.Code)
			}
		})
	}
}

func TestJWKSReadinessChecker(t *testing.T) {
	key := generateTestKey(t)
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"ok", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(jwks) }, "ok"},
		{"нет ключей", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"keys":[]}`)) }, "degraded"},
		{"500", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) }, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			status, msg := NewJWKSReadinessChecker(srv.URL, time.Second).CheckReady()
			if status != tt.want {
				t.Errorf("хотели %s, получили %s (%s)", tt.want, status, msg)
			}
		})
	}
}
