package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInvalidRequest, KindOf(Invalid("bad id", nil)))
	assert.Equal(t, KindSlotUnavailable, KindOf(Unavailable("taken", nil)))
	assert.Equal(t, KindTransient, KindOf(Transientf("db down")))
	assert.Equal(t, KindFatal, KindOf(errors.New("unknown")))
	assert.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTransient, KindOf(fmt.Errorf("call: %w", context.Canceled)))
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("booking: reserve: %w", Transientf("connection reset"))
	assert.True(t, Retryable(err))
	assert.Equal(t, KindTransient, KindOf(err))
}

func TestHintOf(t *testing.T) {
	assert.Equal(t, "bad id", HintOf(Invalid("bad id", nil)))
	assert.Contains(t, HintOf(Unavailable("", nil)), "pick another time")
	assert.Contains(t, HintOf(errors.New("boom")), "try again later")
}
