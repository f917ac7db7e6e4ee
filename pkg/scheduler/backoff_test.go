package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay_Doubles(t *testing.T) {
	assert.Equal(t, 2*time.Second, RetryDelay(1))
	assert.Equal(t, 4*time.Second, RetryDelay(2))
	assert.Equal(t, 8*time.Second, RetryDelay(3))
}

func TestRetryDelay_ClampsBelowOne(t *testing.T) {
	assert.Equal(t, 2*time.Second, RetryDelay(0))
	assert.Equal(t, 2*time.Second, RetryDelay(-5))
}
