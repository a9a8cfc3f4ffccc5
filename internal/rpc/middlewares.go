package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"notevm/internal/account"
	"notevm/internal/ledger"
	"notevm/internal/prover"
	"notevm/internal/txexec"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type contextKey int

const requestIDKey contextKey = iota

// RequestID returns the id of the request a context belongs to.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// handlerError is an error with the HTTP status it maps to.
type handlerError struct {
	Code         int    `json:"-"`
	Message      string `json:"error"`
	AssertionTag string `json:"assertion_tag,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}

func (e *handlerError) Error() string { return e.Message }

func newHandlerError(code int, message string) *handlerError {
	return &handlerError{Code: code, Message: message}
}

// statusFor maps ledger, evaluation and proving errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrNoteNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAccountExists), errors.Is(err, ledger.ErrNoteExists),
		errors.Is(err, ledger.ErrStaleState), errors.Is(err, ledger.ErrNoteAlreadyConsumed):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	}
	var txErr *txexec.Error
	if errors.As(err, &txErr) || errors.Is(err, prover.ErrInvalidProof) ||
		errors.Is(err, account.ErrInvalidAsset) || errors.Is(err, account.ErrDeltaMismatch) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func toHandlerError(err error) *handlerError {
	hErr := newHandlerError(statusFor(err), err.Error())
	var txErr *txexec.Error
	if errors.As(err, &txErr) {
		hErr.AssertionTag, _ = txErr.AssertionTag()
	}
	return hErr
}

type handlerFunc func(r *http.Request, vars map[string]string) (int, interface{}, *handlerError)

func (s *Server) makeHandler(handler handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, response, hErr := handler(r, mux.Vars(r))
		if hErr != nil {
			s.sendErr(w, r, hErr)
			return
		}
		sendJSONResponse(w, code, response)
	}
}

func sendJSONResponse(w http.ResponseWriter, code int, response interface{}) {
	b, err := json.Marshal(response)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(code)
	w.Write(b)
}

func (s *Server) sendErr(w http.ResponseWriter, r *http.Request, hErr *handlerError) {
	hErr.RequestID = RequestID(r.Context())
	if hErr.Code >= http.StatusInternalServerError {
		s.log.Error().Str("request_id", hErr.RequestID).Msg(hErr.Message)
	}
	sendJSONResponse(w, hErr.Code, hErr)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// addRequestMetadataMiddleware tags every request with an id, reusing the caller's if given.
func (s *Server) addRequestMetadataMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// loggingMiddleware logs every request and counts it by route template and status.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.RecordRequest(route, rec.code)
		s.log.Debug().
			Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("code", rec.code).
			Dur("took", time.Since(start)).
			Msg("request served")
	})
}

// recoveryMiddleware turns a handler panic into an internal server error.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				s.log.Error().
					Str("request_id", RequestID(r.Context())).
					Str("stack", string(debug.Stack())).
					Msgf("handler panic: %v", recovered)
				s.metrics.RecordError("panic")
				s.sendErr(w, r, newHandlerError(http.StatusInternalServerError, "A server error occurred."))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware rejects clients that exceed their request budget.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
			s.metrics.RecordError("rate_limited")
			s.sendErr(w, r, newHandlerError(http.StatusTooManyRequests, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setJSONMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller by host.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
