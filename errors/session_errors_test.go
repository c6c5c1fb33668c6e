package errors_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	serrors "go.pilab.hu/socialcore/errors"
)

func TestError_Format(t *testing.T) {
	err := serrors.NewAuthError(serrors.WeakPassword, "password too short", nil)
	assert.Equal(t, "auth/weak-password: password too short", err.Error())

	cause := errors.New("dial tcp: refused")
	err = serrors.NewStoreError(serrors.Unavailable, "get profile", cause)
	assert.Equal(t, "store/unavailable: get profile: dial tcp: refused", err.Error())
}

func TestError_UnwrapAndKind(t *testing.T) {
	cause := context.DeadlineExceeded
	wrapped := fmt.Errorf("sign in: %w", serrors.NewAuthError(serrors.Network, "provider unreachable", cause))

	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
	assert.True(t, serrors.IsAuth(wrapped))
	assert.False(t, serrors.IsStore(wrapped))
	assert.Equal(t, serrors.Network, serrors.CodeOf(wrapped))

	var e *serrors.Error
	require.True(t, errors.As(wrapped, &e))
	assert.Equal(t, serrors.KindAuth, e.Kind)
}

func TestAsAuth(t *testing.T) {
	assert.NoError(t, serrors.AsAuth(nil, serrors.Network, "x"))

	plain := errors.New("boom")
	tagged := serrors.AsAuth(plain, serrors.Network, "provider call failed")
	assert.True(t, serrors.IsAuth(tagged))
	assert.ErrorIs(t, tagged, plain)

	storeErr := serrors.NewStoreError(serrors.Unavailable, "down", nil)
	assert.Same(t, storeErr, serrors.AsAuth(storeErr, serrors.Network, "ignored"))
}

func TestAsStore(t *testing.T) {
	plain := errors.New("socket closed")
	tagged := serrors.AsStore(plain, serrors.Unavailable, "update")
	assert.True(t, serrors.IsStore(tagged))
	assert.Equal(t, serrors.Unavailable, serrors.CodeOf(tagged))

	_, ok := serrors.KindOf(plain)
	assert.False(t, ok)
	assert.Equal(t, serrors.Code(""), serrors.CodeOf(plain))
}
