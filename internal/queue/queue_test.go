package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelayDoubles(t *testing.T) {
	backoff := 5 * time.Second

	assert.Equal(t, 5*time.Second, RetryDelay(backoff, 1))
	assert.Equal(t, 10*time.Second, RetryDelay(backoff, 2))
	assert.Equal(t, 20*time.Second, RetryDelay(backoff, 3))
}

func TestRetryDelayClampsAttempt(t *testing.T) {
	assert.Equal(t, time.Second, RetryDelay(time.Second, 0))
	assert.Equal(t, time.Second, RetryDelay(time.Second, -3))
}

func TestUnrecoverable(t *testing.T) {
	base := errors.New("schema violation")

	err := Unrecoverable(base)
	assert.True(t, IsUnrecoverable(err))
	assert.ErrorIs(t, err, base)

	assert.False(t, IsUnrecoverable(base))
	assert.False(t, IsUnrecoverable(nil))
	assert.Nil(t, Unrecoverable(nil))
}

func TestUnrecoverableSurvivesWrapping(t *testing.T) {
	base := Unrecoverable(errors.New("bad payload"))
	wrapped := errors.Join(errors.New("outer"), base)
	assert.True(t, IsUnrecoverable(wrapped))
}
