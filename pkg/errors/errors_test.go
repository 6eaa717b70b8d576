package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseErrorWrapsUnderlying(t *testing.T) {
	t.Parallel()

	underlying := fmt.Errorf("unexpected token")
	err := NewParseError("zenify.yaml", 12, underlying)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "zenify.yaml", parseErr.Path)
	require.Equal(t, 12, parseErr.Line)
	require.True(t, stdErrors.Is(err, underlying))
	require.Contains(t, err.Error(), "zenify.yaml:12")
}

func TestValidationErrorIncludesField(t *testing.T) {
	t.Parallel()

	err := NewValidationError("query.retry_count", "must be 0 or greater", nil)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "query.retry_count", validationErr.Field)
	require.Contains(t, err.Error(), "must be 0 or greater")
}

func TestNotFoundErrorNamesTypeAndTag(t *testing.T) {
	t.Parallel()

	err := NewNotFoundError("*app.UserService", "primary")

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Contains(t, err.Error(), "*app.UserService")
	require.Contains(t, err.Error(), `"primary"`)
}

func TestScopeDisposedErrorLabelsScope(t *testing.T) {
	t.Parallel()

	err := NewScopeDisposedError("1234", "checkout", "put")
	require.Equal(t, "scope checkout (1234) is disposed: cannot put", err.Error())
}

func TestCycleErrorRendersLoop(t *testing.T) {
	t.Parallel()

	err := &CycleError{Cycle: []string{"auth", "session"}}
	require.Contains(t, err.Error(), "auth -> session -> auth")
}

func TestModuleErrorUnwraps(t *testing.T) {
	t.Parallel()

	underlying := stdErrors.New("boom")
	err := NewModuleError("auth", "init", underlying)
	require.True(t, stdErrors.Is(err, underlying))
	require.Contains(t, err.Error(), "module auth failed during init")
}

type flakyNetErr struct{}

func (flakyNetErr) Error() string   { return "dial tcp: i/o timeout" }
func (flakyNetErr) Timeout() bool   { return true }
func (flakyNetErr) Temporary() bool { return true }

type classified struct{ offline bool }

func (c classified) Error() string      { return "classified" }
func (c classified) Connectivity() bool { return c.offline }

func TestIsConnectivity(t *testing.T) {
	t.Parallel()

	var _ net.Error = flakyNetErr{}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "offline sentinel", err: fmt.Errorf("wrap: %w", ErrOffline), want: true},
		{name: "connectivity error", err: NewConnectivityError("fetch", stdErrors.New("reset")), want: true},
		{name: "net error", err: fmt.Errorf("call: %w", flakyNetErr{}), want: true},
		{name: "classifier true", err: classified{offline: true}, want: true},
		{name: "classifier false", err: classified{offline: false}, want: false},
		{name: "business error", err: stdErrors.New("validation failed"), want: false},
		{name: "cancelled", err: context.Canceled, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsConnectivity(tt.err))
		})
	}
}

func TestNewConnectivityErrorDefaultsToOffline(t *testing.T) {
	t.Parallel()

	err := NewConnectivityError("queue.process", nil)
	require.ErrorIs(t, err, ErrOffline)
}
