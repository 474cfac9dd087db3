package openapi

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("x"), false},
		{"validation error", NewValidationError("bad path"), false},
		{"transient token error", &TokenError{Kind: TokenKindApp, Err: errors.New("conn reset"), Transient: true}, true},
		{"permanent token error", &TokenError{Kind: TokenKindApp, Err: ErrAppTicketEmpty}, false},
		{"transport error", &TransportError{Err: errors.New("refused")}, true},
		{"transport timeout", &TransportError{Err: errors.New("deadline"), Timeout: true}, true},
		{"api 5xx", &APIError{HTTPStatus: 502, Code: 1}, true},
		{"api business code", &APIError{HTTPStatus: 200, Code: 230001}, false},
		{"api token invalid", &APIError{HTTPStatus: 200, Code: ErrCodeTenantTokenInvalid}, false},
		{"decode error", &DecodeError{Err: errors.New("bad json")}, false},
		{"wrapped transport error", fmt.Errorf("request: %w", &TransportError{Err: errors.New("x")}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestAPIError_TokenInvalid(t *testing.T) {
	assert.True(t, (&APIError{Code: ErrCodeTenantTokenInvalid}).TokenInvalid())
	assert.True(t, (&APIError{Code: ErrCodeAppTokenInvalid}).TokenInvalid())
	assert.True(t, (&APIError{Code: ErrCodeAccessTokenInvalid}).TokenInvalid())
	assert.False(t, (&APIError{Code: 0}).TokenInvalid())
	assert.False(t, (&APIError{Code: 230001}).TokenInvalid())
}

func TestErrorMessages(t *testing.T) {
	t.Run("api error includes request id", func(t *testing.T) {
		err := &APIError{HTTPStatus: 200, Code: 99991663, Msg: "token invalid", RequestID: "req-7"}
		assert.Contains(t, err.Error(), "request_id=req-7")
		assert.Contains(t, err.Error(), "code=99991663")
	})

	t.Run("validation error names the reason", func(t *testing.T) {
		err := NewValidationError("missing path param %q", "id")
		assert.Equal(t, `openapi: invalid request: missing path param "id"`, err.Error())
	})

	t.Run("token error names the kind", func(t *testing.T) {
		err := &TokenError{Kind: TokenKindTenant, Err: errors.New("refused")}
		assert.Contains(t, err.Error(), "tenant_access_token")
	})
}

func TestErrorUnwrap(t *testing.T) {
	t.Run("token error chain", func(t *testing.T) {
		inner := &TransportError{Err: errors.New("conn reset")}
		err := &TokenError{Kind: TokenKindApp, Err: inner, Transient: true}

		var transportErr *TransportError
		assert.ErrorAs(t, err, &transportErr)
	})

	t.Run("sentinel through token error", func(t *testing.T) {
		err := &TokenError{Kind: TokenKindUser, Err: ErrUserTokenUnavailable}
		assert.ErrorIs(t, err, ErrUserTokenUnavailable)
	})

	t.Run("decode error chain", func(t *testing.T) {
		inner := errors.New("unexpected EOF")
		assert.ErrorIs(t, &DecodeError{Err: inner}, inner)
	})
}
