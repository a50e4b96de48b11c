package retryq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelay_Doubling(t *testing.T) {
	assert.Equal(t, 60*time.Second, NextDelay(0))
	assert.Equal(t, 120*time.Second, NextDelay(1))
	assert.Equal(t, 240*time.Second, NextDelay(2))
	assert.Equal(t, 480*time.Second, NextDelay(3))
	assert.Equal(t, 960*time.Second, NextDelay(4))
}
