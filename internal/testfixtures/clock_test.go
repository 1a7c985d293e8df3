package testfixtures

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	assert.True(t, NewClock(time.Time{}).Now().Equal(ReferenceTime()))
}

func TestClockMovesForwardOnly(t *testing.T) {
	start := time.Date(2024, time.May, 6, 12, 30, 0, 0, time.UTC)
	clock := NewClock(start)

	assert.True(t, clock.Advance(90*time.Minute).Equal(start.Add(90*time.Minute)))

	assert.False(t, clock.AdvanceTo(start), "moving backwards must be refused")
	assert.True(t, clock.Now().Equal(start.Add(90*time.Minute)))

	assert.True(t, clock.AdvanceTo(start.Add(3*time.Hour)))
	assert.True(t, clock.Now().Equal(start.Add(3*time.Hour)))
}

func TestClockAtUsesCurrentDay(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("no tzdata: %v", err)
	}
	clock := NewClock(time.Date(2024, time.May, 6, 23, 0, 0, 0, paris))

	assert.True(t, clock.At(9, 15).Equal(time.Date(2024, time.May, 6, 9, 15, 0, 0, paris)))
	clock.Advance(2 * time.Hour)
	assert.True(t, clock.At(9, 15).Equal(time.Date(2024, time.May, 7, 9, 15, 0, 0, paris)))
}

func TestClockNowFuncFollowsClock(t *testing.T) {
	clock := NewClock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	now := clock.NowFunc()

	clock.Advance(time.Minute)
	assert.True(t, now().Equal(clock.Now()))

	var missing *Clock
	assert.WithinDuration(t, time.Now(), missing.NowFunc()(), time.Minute)
}
