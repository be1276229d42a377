package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_DisabledWhenRPMsNonPositive(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.False(t, rl.Enabled())
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("client1", false))
	}
}

func TestRateLimiter_EnforcesBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(60, 10)
	assert.True(t, rl.Enabled())

	allowed := 0
	for i := 0; i < 20; i++ {
		if rl.Allow("client1", false) {
			allowed++
		}
	}
	assert.Greater(t, allowed, 0)
	assert.Less(t, allowed, 20) // burst exhausts well before 20 rapid calls
}

func TestRateLimiter_AnonAndAuthBucketsAreSeparate(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	// Exhaust the anon bucket for client1.
	rl.Allow("client1", true)
	for rl.Allow("client1", true) {
	}
	assert.False(t, rl.Allow("client1", true))
	// The authenticated bucket for the same client id is untouched.
	assert.True(t, rl.Allow("client1", false))
}

func TestRateLimiter_Forget_ClearsBothBuckets(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	rl.Allow("client1", true)
	for rl.Allow("client1", true) {
	}
	require := assert.New(t)
	require.False(rl.Allow("client1", true))

	rl.Forget("client1")
	require.True(rl.Allow("client1", true))
}
