package warptile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
		wantOp   string
	}{
		{"not implementable", ErrNotImplementable, KindConfig, "Run"},
		{"null pointer", ErrNullPointer, KindConfig, "Arguments"},
		{"double free", ErrDoubleFree, KindMemory, "Free"},
		{"workspace too small", ErrWorkspaceTooSmall, KindWorkspace, "Initialize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e *Error
			require.True(t, errors.As(tt.err, &e))
			require.Equal(t, tt.wantKind, e.Kind)
			require.Equal(t, tt.wantOp, e.Op)
			require.True(t, IsKind(tt.err, tt.wantKind))
			require.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("backing store gone")
	err := NewMemoryError("Allocate", "allocation failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestErrorKindString(t *testing.T) {
	require.Equal(t, "Config", KindConfig.String())
	require.Equal(t, "NotSupported", KindNotSupported.String())
}
