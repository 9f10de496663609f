package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	vaulterrors "github.com/memoryvault/client/internal/errors"
	"github.com/memoryvault/client/internal/types"
)

// maxErrorBody bounds how much of an error response is kept for diagnostics.
const maxErrorBody = 4 << 10

// do sends req and normalises transport failures. Context cancellation is
// returned unchanged so callers can tell it apart from connectivity loss.
func do(ctx context.Context, httpClient HTTPClient, req *http.Request, op string) (*http.Response, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, vaulterrors.NewNetworkError(op, err)
	}
	return resp, nil
}

// statusError converts a non-success response into the taxonomy: 401 becomes
// an AuthError, anything else a ClassifiedError. fallback is used when the
// payload carries no message.
func statusError(resp *http.Response, op, fallback string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := errorMessage(raw)
	if resp.StatusCode == http.StatusUnauthorized {
		if msg == "" {
			msg = "Session expired, please log in again"
		}
		return &vaulterrors.AuthError{Message: msg, StatusCode: resp.StatusCode}
	}
	if msg == "" {
		msg = fallback
	}
	return vaulterrors.NewHTTPError(resp.StatusCode, msg, string(raw), op)
}

func errorMessage(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return ""
	}
	var body types.ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return body.Text()
}

func isSuccess(code int) bool { return code >= 200 && code < 300 }

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

// asAuthError wraps any failure of an auth call into an AuthError so callers
// always receive a displayable message.
func asAuthError(err error, fallback string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ae *vaulterrors.AuthError
	if errors.As(err, &ae) {
		return ae
	}
	msg := fallback
	var ce *vaulterrors.ClassifiedError
	if errors.As(err, &ce) {
		if ce.Message != "" {
			msg = ce.Message
		}
		return &vaulterrors.AuthError{Message: msg, StatusCode: ce.StatusCode, Err: err}
	}
	return &vaulterrors.AuthError{Message: msg, Err: err}
}
