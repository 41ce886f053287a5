package batch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRunsAndClearsEntry(t *testing.T) {
	r := NewRegistry()
	done := make(chan struct{})

	r.Schedule("sub_1", time.Now().Add(10*time.Millisecond), func() { close(done) })
	_, ok := r.Pending("sub_1")
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not run")
	}
	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRescheduleReplacesEarlierTimer(t *testing.T) {
	r := NewRegistry()
	var first, second atomic.Int32
	done := make(chan struct{})

	r.Schedule("sub_1", time.Now().Add(20*time.Millisecond), func() { first.Add(1) })
	later := time.Now().Add(60 * time.Millisecond)
	r.Schedule("sub_1", later, func() {
		second.Add(1)
		close(done)
	})

	at, ok := r.Pending("sub_1")
	require.True(t, ok)
	assert.True(t, later.Equal(at))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement flush did not run")
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestCancel(t *testing.T) {
	r := NewRegistry()
	var ran atomic.Bool

	r.Schedule("sub_1", time.Now().Add(20*time.Millisecond), func() { ran.Store(true) })
	assert.True(t, r.Cancel("sub_1"))
	assert.False(t, r.Cancel("sub_1"))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestPastDeadlineRunsImmediately(t *testing.T) {
	r := NewRegistry()
	done := make(chan struct{})

	r.Schedule("sub_1", time.Now().Add(-time.Minute), func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("overdue flush did not run")
	}
}

func TestFlushMayRescheduleItself(t *testing.T) {
	r := NewRegistry()
	var runs atomic.Int32
	done := make(chan struct{})

	var flush func()
	flush = func() {
		if runs.Add(1) == 1 {
			r.Schedule("sub_1", time.Now().Add(5*time.Millisecond), flush)
			return
		}
		close(done)
	}
	r.Schedule("sub_1", time.Now(), flush)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rescheduled flush did not run")
	}
	assert.Equal(t, int32(2), runs.Load())
}

func TestStopCancelsAndRejects(t *testing.T) {
	r := NewRegistry()
	var ran atomic.Bool

	r.Schedule("sub_1", time.Now().Add(20*time.Millisecond), func() { ran.Store(true) })
	r.Stop()
	r.Schedule("sub_2", time.Now(), func() { ran.Store(true) })

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Zero(t, r.Len())
}
