package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"pactum/storage/escrowdb"
)

// contextKey scopes values stored on the request context.
type contextKey string

const contextKeyIdempotency contextKey = "idempotency-key"

// IdempotencyHeader is the request header carrying the client key.
const IdempotencyHeader = "Idempotency-Key"

const maxIdempotencyKeyLength = 128

// KeyFromContext returns the idempotency key of the request, if any.
func KeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(contextKeyIdempotency).(string)
	return key
}

// WithIdempotency ensures mutating requests carrying the same key are executed
// once. The key is reserved with a pending row before the handler runs, so a
// concurrent duplicate gets 409 instead of a second execution. The completed
// response is stored and replayed verbatim; reusing a key on a different route
// is rejected. Server errors release the key so the client may retry them.
func WithIdempotency(db *gorm.DB, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				http.Error(w, "idempotency key too long", http.StatusBadRequest)
				return
			}

			requestID := middleware.GetReqID(r.Context())
			if requestID == "" {
				requestID = uuid.NewString()
			}
			reservation := escrowdb.IdempotencyKey{
				Key:       key,
				RequestID: requestID,
				Method:    r.Method,
				Path:      r.URL.Path,
				CreatedAt: time.Now().UTC(),
			}
			if err := db.WithContext(r.Context()).Create(&reservation).Error; err != nil {
				var record escrowdb.IdempotencyKey
				lookupErr := db.WithContext(r.Context()).First(&record, "key = ?", key).Error
				if lookupErr != nil {
					logger.ErrorContext(r.Context(), "idempotency reservation failed", "error", err, "lookup_error", lookupErr)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				replay(w, r, record)
				return
			}

			// Everything below runs after the reservation committed, so the
			// row must be completed or released even if the request is gone.
			store := db.WithContext(context.WithoutCancel(r.Context()))
			release := func() {
				if err := store.Where("key = ? AND request_id = ?", key, requestID).Delete(&escrowdb.IdempotencyKey{}).Error; err != nil {
					logger.WarnContext(r.Context(), "idempotency reservation not released", "error", err)
				}
			}
			defer func() {
				if p := recover(); p != nil {
					release()
					panic(p)
				}
			}()

			recorder := &responseRecorder{ResponseWriter: w}
			ctx := context.WithValue(r.Context(), contextKeyIdempotency, key)
			next.ServeHTTP(recorder, r.WithContext(ctx))

			status := recorder.status
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				release()
				return
			}
			err := store.Model(&escrowdb.IdempotencyKey{}).
				Where("key = ? AND request_id = ?", key, requestID).
				Updates(map[string]interface{}{"status": status, "response": recorder.buf.String()}).Error
			if err != nil {
				logger.WarnContext(r.Context(), "idempotency record not stored", "error", err)
				release()
			}
		})
	}
}

// replay answers a request whose key is already reserved. A row without a
// status belongs to a request that is still running.
func replay(w http.ResponseWriter, r *http.Request, record escrowdb.IdempotencyKey) {
	if record.Method != r.Method || record.Path != r.URL.Path {
		http.Error(w, "idempotency key reused for a different request", http.StatusUnprocessableEntity)
		return
	}
	if record.Status == 0 {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "request with this idempotency key is in progress", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(record.Status)
	_, _ = io.WriteString(w, record.Response)
}

// responseRecorder captures the response for idempotent operations.
type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	if rr.status == 0 {
		rr.status = status
	}
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
