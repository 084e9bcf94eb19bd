package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pactum/storage/escrowdb"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := escrowdb.Open("sqlite", dsn, escrowdb.Options{LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func send(h http.Handler, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	db := setupTestDB(t)
	calls := 0
	var seenKey string
	h := WithIdempotency(db, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		seenKey = KeyFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, calls)
	}))

	first := send(h, http.MethodPost, "/api/v1/escrows", "abc")
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, "abc", seenKey)

	second := send(h, http.MethodPost, "/api/v1/escrows", "abc")
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, `{"call":1}`, second.Body.String())
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.Equal(t, 1, calls)

	mismatch := send(h, http.MethodPost, "/api/v1/escrows/x/refund", "abc")
	require.Equal(t, http.StatusUnprocessableEntity, mismatch.Code)
	require.Equal(t, 1, calls)

	send(h, http.MethodPost, "/api/v1/escrows", "")
	send(h, http.MethodPost, "/api/v1/escrows", "")
	require.Equal(t, 3, calls)
}

func TestIdempotencySkipsServerErrorsAndReads(t *testing.T) {
	db := setupTestDB(t)
	calls := 0
	h := WithIdempotency(db, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))

	send(h, http.MethodPost, "/api/v1/escrows/a/deposits", "retry-me")
	send(h, http.MethodPost, "/api/v1/escrows/a/deposits", "retry-me")
	require.Equal(t, 2, calls)

	var count int64
	require.NoError(t, db.Model(&escrowdb.IdempotencyKey{}).Count(&count).Error)
	require.Zero(t, count)

	send(h, http.MethodGet, "/api/v1/escrows/a", "read")
	require.Equal(t, 3, calls)

	resp := send(h, http.MethodPost, "/api/v1/escrows", strings.Repeat("k", maxIdempotencyKeyLength+1))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, 3, calls)
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	db := setupTestDB(t)
	var calls atomic.Int32
	entered := make(chan struct{})
	unblock := make(chan struct{})
	h := WithIdempotency(db, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(entered)
			<-unblock
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"esc-1"}`))
	}))

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- send(h, http.MethodPost, "/api/v1/escrows", "same-key") }()
	<-entered

	inFlight := send(h, http.MethodPost, "/api/v1/escrows", "same-key")
	require.Equal(t, http.StatusConflict, inFlight.Code)
	require.Equal(t, "1", inFlight.Header().Get("Retry-After"))

	close(unblock)
	first := <-done
	require.Equal(t, http.StatusCreated, first.Code)

	replayed := send(h, http.MethodPost, "/api/v1/escrows", "same-key")
	require.Equal(t, http.StatusCreated, replayed.Code)
	require.Equal(t, `{"id":"esc-1"}`, replayed.Body.String())
	require.Equal(t, "true", replayed.Header().Get("Idempotent-Replayed"))
	require.Equal(t, int32(1), calls.Load())
}

func TestIdempotencyReleasesKeyWhenHandlerPanics(t *testing.T) {
	db := setupTestDB(t)
	h := WithIdempotency(db, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	require.Panics(t, func() { send(h, http.MethodPost, "/api/v1/escrows", "panicky") })

	var count int64
	require.NoError(t, db.Model(&escrowdb.IdempotencyKey{}).Count(&count).Error)
	require.Zero(t, count)
}
