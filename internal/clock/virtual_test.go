package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestVirtualFiresInDeadlineOrder(t *testing.T) {
	v := NewVirtual(epoch)
	var order []string
	v.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	v.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	v.AfterFunc(10*time.Millisecond, func() { order = append(order, "b") })

	v.Advance(50 * time.Millisecond)

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, epoch.Add(50*time.Millisecond), v.Now())
	assert.Equal(t, 0, v.Pending())
}

func TestVirtualEveryRepeatsUntilStopped(t *testing.T) {
	v := NewVirtual(epoch)
	count := 0
	timer := v.Every(50*time.Millisecond, func() { count++ })

	v.Advance(200 * time.Millisecond)
	require.Equal(t, 4, count)

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	v.Advance(200 * time.Millisecond)
	assert.Equal(t, 4, count)
}

func TestVirtualCallbackCanRescheduleAndStop(t *testing.T) {
	v := NewVirtual(epoch)
	var fired []time.Duration
	var ticker Timer
	ticker = v.Every(10*time.Millisecond, func() {
		fired = append(fired, v.Now().Sub(epoch))
		if len(fired) == 2 {
			ticker.Stop()
			v.AfterFunc(5*time.Millisecond, func() {
				fired = append(fired, v.Now().Sub(epoch))
			})
		}
	})

	v.Advance(100 * time.Millisecond)

	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}, fired)
}
