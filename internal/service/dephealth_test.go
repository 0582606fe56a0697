package service

import (
	"database/sql"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // драйвер pgx для database/sql
	"github.com/prometheus/client_golang/prometheus"
)

// TestNewDephealthService проверяет создание мониторинга с изолированным registry.
func TestNewDephealthService(t *testing.T) {
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer jwks.Close()

	// sql.Open не устанавливает соединение
	db, err := sql.Open("pgx", "postgres://cb:cb@localhost:5432/cobranzas?sslmode=disable")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ds, err := NewDephealthService(DephealthParams{
		ServiceID:     "cobranzas",
		Group:         "test",
		DB:            db,
		PgURL:         "postgres://localhost:5432/cobranzas",
		JWKSURL:       jwks.URL + "/realms/cb/protocol/openid-connect/certs",
		CheckInterval: 15 * time.Second,
		Registerer:    prometheus.NewRegistry(),
	}, logger)
	if err != nil {
		t.Fatalf("NewDephealthService ошибка: %v", err)
	}
	if ds == nil {
		t.Fatal("NewDephealthService вернул nil")
	}
}
