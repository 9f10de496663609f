package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// credentialSource is the session side of the auth transport.
type credentialSource interface {
	Credential() string
	// Unauthorized reports a 401 for a request sent with credential.
	Unauthorized(credential string) bool
}

// authTransport is the single place that sets Authorization. It reads the
// credential per request so nothing stale survives a logout.
type authTransport struct {
	base   http.RoundTripper
	source credentialSource
	log    zerolog.Logger
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())

	cred := ""
	if t.source != nil {
		cred = t.source.Credential()
	}
	if cred != "" {
		cloned.Header.Set("Authorization", "Bearer "+cred)
	} else {
		cloned.Header.Del("Authorization")
	}
	if !strings.HasPrefix(cloned.Header.Get("Content-Type"), "multipart/") {
		cloned.Header.Set("Content-Type", "application/json")
	}
	if cloned.Header.Get("Accept") == "" {
		cloned.Header.Set("Accept", "application/json")
	}
	if cloned.Header.Get("X-Request-ID") == "" {
		cloned.Header.Set("X-Request-ID", uuid.NewString())
	}

	resp, err := t.base.RoundTrip(cloned)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && cred != "" && !isCredentialExchange(cloned) {
		if t.source.Unauthorized(cred) {
			unauthorizedLogoutsTotal.Inc()
			t.log.Info().Str("path", cloned.URL.Path).Msg("backend rejected credential; session ended")
		}
	}
	return resp, nil
}

// isCredentialExchange is true for login and register, where a 401 means
// wrong credentials rather than an expired session.
func isCredentialExchange(req *http.Request) bool {
	p := strings.TrimSuffix(req.URL.Path, "/")
	return strings.HasSuffix(p, "/auth/login") || strings.HasSuffix(p, "/auth/register")
}

// errServerFailure marks a 5xx response as a breaker failure while the
// response itself is still handed back to the caller.
var errServerFailure = errors.New("backend server error")

// breakerTransport fails fast while the backend keeps failing.
type breakerTransport struct {
	base http.RoundTripper
	cb   *gobreaker.CircuitBreaker
}

func newBreakerTransport(base http.RoundTripper, failures uint32, timeout time.Duration, log zerolog.Logger) *breakerTransport {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "memory-vault-backend",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerTransitionsTotal.WithLabelValues(to.String()).Inc()
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return &breakerTransport{base: base, cb: cb}
}

func (b *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		resp, err := b.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, errServerFailure
		}
		return resp, nil
	})
	if errors.Is(err, errServerFailure) {
		return out.(*http.Response), nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("backend unavailable: %w", err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}
