package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthAllowsOnlyListedChats(t *testing.T) {
	a := NewAuth(100, 200)

	assert.True(t, a.Allowed(100))
	assert.True(t, a.Allowed(200))
	assert.False(t, a.Allowed(300))
}

func TestAuthEmptyListDeniesEveryone(t *testing.T) {
	a := NewAuth()
	assert.False(t, a.Allowed(100))
}

func TestAuthZeroChatIDIgnored(t *testing.T) {
	a := NewAuth(0)
	assert.False(t, a.Allowed(0))
}

func TestAuthRateLimit(t *testing.T) {
	a := NewAuth(100)

	assert.NoError(t, a.CheckRateLimit(100))
	assert.NoError(t, a.CheckRateLimit(100))
	assert.Error(t, a.CheckRateLimit(100), "third command within a second must be limited")

	// Другой чат не задет лимитом первого
	assert.NoError(t, a.CheckRateLimit(200))
}
