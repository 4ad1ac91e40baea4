package httpclient

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestID tags each outgoing request with a fresh X-Request-ID.
func RequestID() RequestInterceptor {
	return func(req *http.Request) (*http.Request, error) {
		if req.Header.Get("X-Request-ID") == "" {
			req.Header.Set("X-Request-ID", uuid.New().String())
		}
		return req, nil
	}
}

// BearerToken attaches an Authorization header when token returns a
// non-empty value. Not installed unless a token is configured.
func BearerToken(token func() string) RequestInterceptor {
	return func(req *http.Request) (*http.Request, error) {
		if t := token(); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}
		return req, nil
	}
}

// BaseURLFor picks the backend host for the runtime environment. An explicit
// override wins.
func BaseURLFor(env, override, dev, prod string) string {
	if override != "" {
		return override
	}
	if env == "development" {
		return dev
	}
	return prod
}
