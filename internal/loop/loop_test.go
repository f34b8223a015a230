package loop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInOrder(t *testing.T) {
	l := New()
	var got []int
	for i := range 100 {
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	l.Stop()
	<-l.Done()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopNeverOverlapsTasks(t *testing.T) {
	l := New()
	var mu sync.Mutex
	running, maxRunning := 0, 0
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				l.Post(func() {
					mu.Lock()
					running++
					if running > maxRunning {
						maxRunning = running
					}
					mu.Unlock()
					time.Sleep(10 * time.Microsecond)
					mu.Lock()
					running--
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()
	l.Stop()
	<-l.Done()
	assert.Equal(t, 1, maxRunning)
}

func TestLoopStopDrainsAndRefuses(t *testing.T) {
	l := New()
	release := make(chan struct{})
	ran := make(chan string, 4)
	l.Post(func() { <-release; ran <- "first" })
	l.Post(func() { ran <- "second" })
	l.Stop()

	assert.False(t, l.Post(func() { ran <- "late" }))
	close(release)

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not drain")
	}
	close(ran)
	var got []string
	for s := range ran {
		got = append(got, s)
	}
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestLoopTaskMayPostFollowUp(t *testing.T) {
	l := New()
	done := make(chan int, 1)
	var step func(n int)
	step = func(n int) {
		if n == 3 {
			done <- n
			return
		}
		l.Post(func() { step(n + 1) })
	}
	l.Post(func() { step(0) })

	select {
	case n := <-done:
		assert.Equal(t, 3, n)
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up tasks did not run")
	}
	l.Stop()
}
