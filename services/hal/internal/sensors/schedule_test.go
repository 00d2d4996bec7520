package sensors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleOrder(t *testing.T) {
	t0 := time.Unix(100, 0)
	s := newSchedule()
	s.set(4, t0.Add(3*time.Second))
	s.set(5, t0.Add(time.Second))
	s.set(6, t0.Add(2*time.Second))

	next, ok := s.next()
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), next)

	s.set(4, t0) // move earlier
	assert.Equal(t, []int{4, 5}, s.popDue(t0.Add(time.Second)))
	assert.False(t, s.has(4))
	assert.True(t, s.has(6))

	s.remove(6)
	_, ok = s.next()
	assert.False(t, ok)
	assert.Empty(t, s.popDue(t0.Add(time.Hour)))
}
