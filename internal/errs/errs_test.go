package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusNotFound, KindConflict},
		{http.StatusConflict, KindConflict},
		{http.StatusGone, KindConflict},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadRequest, KindUnknown},
		{http.StatusTeapot, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			require.Equal(t, tt.want, KindOf(FromStatus("list tickets", tt.status, "")))
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("refresh: %w", &AuthError{Status: 401})
	require.True(t, IsAuth(err))
	require.False(t, IsTransient(err))
	require.Equal(t, Kind(""), KindOf(nil))
	require.Equal(t, KindUnknown, KindOf(errors.New("boom")))
}

func TestTransientUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &TransientError{Op: "list tickets", Err: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "connection refused")
}

func TestUserMessage(t *testing.T) {
	require.Equal(t, "authorization required", UserMessage(&AuthError{Status: 403}))
	require.Equal(t, "server says no", UserMessage(&UnknownError{Op: "send", Status: 400, Message: "server says no"}))
	require.Equal(t, GenericMessage, UserMessage(&UnknownError{Op: "send", Status: 400}))
	require.Equal(t, "connection to the server failed", UserMessage(&TransientError{Op: "send"}))
	require.Equal(t, `"a.txt": not an image`, UserMessage(&ValidationError{Item: "a.txt", Message: "not an image"}))
	require.Empty(t, UserMessage(nil))
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, 401, StatusOf(&AuthError{Status: 401}))
	require.Equal(t, 404, StatusOf(fmt.Errorf("typing: %w", &ConflictError{Status: 404})))
	require.Equal(t, 502, StatusOf(&TransientError{Op: "typing", Status: 502}))
	require.Equal(t, 200, StatusOf(&TransientError{Op: "typing", Status: 200, Message: "malformed response body"}))
	require.Equal(t, 418, StatusOf(&UnknownError{Op: "typing", Status: 418}))
	require.Zero(t, StatusOf(&TransientError{Op: "typing", Err: errors.New("connection refused")}))
	require.Zero(t, StatusOf(context.Canceled))
	require.Zero(t, StatusOf(nil))
}
