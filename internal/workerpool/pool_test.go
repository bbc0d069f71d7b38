package workerpool

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreproxy/coreproxy/internal/model"
)

func TestPool_RunsSubmittedWork(t *testing.T) {
	var processed int32
	var wg sync.WaitGroup
	wg.Add(5)

	p := NewPool(2, 4, 50*time.Millisecond, 8, func(arg ThreadArg) {
		atomic.AddInt32(&processed, 1)
		wg.Done()
	})
	p.Start()

	for i := 0; i < 5; i++ {
		c1, c2 := net.Pipe()
		_ = c2.Close()
		p.Submit(ThreadArg{Sock: c1, Listener: &model.Listener{}})
	}

	wg.Wait()
	assert.EqualValues(t, 5, atomic.LoadInt32(&processed))
}

func TestPool_GrowsPastMin(t *testing.T) {
	release := make(chan struct{})
	var inHandler int32
	var maxSeen int32

	p := NewPool(1, 3, time.Second, 1, func(arg ThreadArg) {
		n := atomic.AddInt32(&inHandler, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inHandler, -1)
	})
	p.Start()

	for i := 0; i < 3; i++ {
		c1, _ := net.Pipe()
		p.Submit(ThreadArg{Sock: c1, Listener: &model.Listener{}})
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&maxSeen), int32(1))
	assert.LessOrEqual(t, p.Active(), 3)
}

func TestPool_ExtraWorkerShrinksAfterIdle(t *testing.T) {
	p := NewPool(1, 3, 30*time.Millisecond, 4, func(arg ThreadArg) {})
	p.Start()

	for i := 0; i < 3; i++ {
		c1, c2 := net.Pipe()
		_ = c2.Close()
		p.Submit(ThreadArg{Sock: c1, Listener: &model.Listener{}})
	}

	require.Eventually(t, func() bool {
		return p.Active() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPool_ShutdownDrainsThenReturns(t *testing.T) {
	p := NewPool(2, 2, time.Second, 4, func(arg ThreadArg) {
		time.Sleep(10 * time.Millisecond)
	})
	p.Start()

	c1, c2 := net.Pipe()
	_ = c2.Close()
	p.Submit(ThreadArg{Sock: c1, Listener: &model.Listener{}})

	start := time.Now()
	p.Shutdown(time.Second)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, p.Active())
}
