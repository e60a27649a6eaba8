package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"recipe-api/internal/observability/logging"
)

const (
	requestIDHeader    = "X-Request-Id"
	maxRequestIDLength = 128
)

type idGenerator func() string

func requestIDMiddleware(next http.Handler) http.Handler {
	return requestIDMiddlewareWithGenerator(newRequestID, next)
}

// requestIDMiddlewareWithGenerator keeps a caller supplied X-Request-Id and
// generates one otherwise. The id is echoed on the response and stored on the
// context for loggers further down the chain.
func requestIDMiddlewareWithGenerator(generator idGenerator, next http.Handler) http.Handler {
	if generator == nil {
		generator = newRequestID
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = generator()
		}

		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	return uuid.NewString()
}
