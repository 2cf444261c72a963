package xerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "USER_ERROR", KindUser.String())
	assert.Equal(t, "SYSTEM_ERROR", KindTransient.String())
	assert.Equal(t, "SYSTEM_ERROR", KindStateInvariant.String())
	assert.Equal(t, "SYSTEM_ERROR", KindFatal.String())
}

func TestIsUserDetectsDirectAndWrapped(t *testing.T) {
	u := User("invalid-option", "user supplied bad option")
	assert.True(t, IsUser(u))

	wrapped := fmt.Errorf("handling command: %w", u)
	assert.True(t, IsUser(wrapped))

	sys := Transient("broker send failed", errors.New("dial tcp: timeout"))
	assert.False(t, IsUser(sys))
	assert.False(t, IsUser(errors.New("plain error")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	e := Transient("dial broker", cause)
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "connection refused")
}
