package httpsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
	"github.com/vladislavdragonenkov/dormside/internal/service/idempotency"
)

const (
	// HeaderIdempotencyKey — ключ дедупликации POST-запросов.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется на ответах, отданных из сохранённой записи.
	HeaderIdempotentReplay = "X-Idempotent-Replay"

	maxBodyBytes      = 1 << 20
	maxIdempotencyKey = 255
)

// accessLog пишет одну строку logrus на запрос.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := s.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_ip":   r.RemoteAddr,
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request completed")
			return
		}
		entry.Debug("request completed")
	})
}

// requireAdmin пропускает запрос только с валидной админской cookie.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.sessions.IsAdmin(r) {
			s.writeError(w, r, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// idempotent сохраняет первый ответ на запрос с Idempotency-Key и отдаёт его повторно.
// Запросы без заголовка проходят как есть.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key == "" || s.guard == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			s.writeError(w, r, domain.NewValidationError([]error{
				fmt.Errorf("%s header must be at most %d characters", HeaderIdempotencyKey, maxIdempotencyKey),
			}))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.writeError(w, r, domain.NewValidationError([]error{errors.New("request body is too large")}))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		hash := idempotency.HashRequest(r.Method, r.URL.Path, body)
		outcome, err := s.guard.Begin(r.Context(), key, hash)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if outcome.Replay {
			contentType := outcome.Response.ContentType
			if contentType == "" {
				contentType = "application/json"
			}
			w.Header().Set("Content-Type", contentType)
			w.Header().Set(HeaderIdempotentReplay, "true")
			w.WriteHeader(outcome.Response.StatusCode)
			_, _ = w.Write(outcome.Response.Body)
			return
		}

		var captured bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&captured)

		completed := false
		defer func() {
			if completed {
				return
			}
			// Обработчик упал: освобождаем ключ, чтобы клиент мог повторить запрос.
			if err := s.guard.Release(context.WithoutCancel(r.Context()), key); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", key).Warn("release idempotency key failed")
			}
		}()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		resp := domain.StoredResponse{
			StatusCode:  status,
			ContentType: ww.Header().Get("Content-Type"),
			Body:        captured.Bytes(),
		}
		if err := s.guard.Complete(context.WithoutCancel(r.Context()), key, resp); err != nil {
			s.logger.WithError(err).WithField("idempotency_key", key).Warn("store idempotent response failed")
		}
		completed = true
	})
}

// decodeJSON разбирает тело запроса; ошибка разбора — ошибка валидации.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return domain.NewValidationError([]error{errors.New("request body is too large")})
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return domain.NewValidationError([]error{errors.New("request body is required")})
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return domain.NewValidationError([]error{fmt.Errorf("invalid JSON body: %v", err)})
	}
	return nil
}
