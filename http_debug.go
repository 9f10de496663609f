package client

import (
	"net/http"
	"net/http/httputil"
	"os"
	"regexp"

	"github.com/rs/zerolog/log"
)

// debugTransport logs full request and response dumps at debug level.
// Enable with WithDebugLogging(true), VAULT_DEBUG=true or DEBUG=true.
// Bodies are dumped verbatim and may contain user data; bearer
// credentials are redacted.
type debugTransport struct{ base http.RoundTripper }

var authHeaderRe = regexp.MustCompile(`(?im)^(Authorization:[ \t]*)[^\r\n]*`)

func redact(dump []byte) string {
	return string(authHeaderRe.ReplaceAll(dump, []byte("${1}[REDACTED]")))
}

func (dt *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := dt.base
	if base == nil {
		base = http.DefaultTransport
	}
	if reqDump, err := httputil.DumpRequestOut(req, true); err == nil {
		log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Str("request_dump", redact(reqDump)).Msg("HTTP request")
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		log.Error().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("HTTP request failed")
		return nil, err
	}

	if respDump, err := httputil.DumpResponse(resp, true); err == nil {
		log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Int("status_code", resp.StatusCode).Str("response_dump", string(respDump)).Msg("HTTP response")
	}
	return resp, nil
}

// debugLoggingRequested reports whether VAULT_DEBUG or DEBUG is "true".
func debugLoggingRequested() bool {
	return os.Getenv("VAULT_DEBUG") == "true" || os.Getenv("DEBUG") == "true"
}
