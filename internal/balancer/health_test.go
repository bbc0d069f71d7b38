package balancer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreproxy/coreproxy/internal/model"
)

func TestKillReviveBackend_UpdatesGroupTotals(t *testing.T) {
	g := &model.BalancerGroup{}
	g.Add(model.NewRegular("a", 3))
	g.Add(model.NewRegular("b", 4))
	g.Recompute()
	require.Equal(t, 7, g.TotPri())

	KillBackend(g, g.Backends[0])
	assert.False(t, g.Backends[0].Alive())
	assert.Equal(t, 4, g.TotPri())

	ReviveBackend(g, g.Backends[0])
	assert.True(t, g.Backends[0].Alive())
	assert.Equal(t, 7, g.TotPri())
}

type fakeProber struct {
	ok map[string]bool
}

func (f fakeProber) Probe(_ context.Context, b *model.Backend) error {
	if f.ok[b.Addr] {
		return nil
	}
	return errors.New("down")
}

func TestRetryTicker_RevivesOnSuccessfulProbe(t *testing.T) {
	g := &model.BalancerGroup{}
	g.Add(model.NewRegular("up", 1))
	g.Add(model.NewRegular("down", 1))
	g.Backends[0].SetAlive(false)
	g.Backends[1].SetAlive(false)
	g.Recompute()

	ctx, cancel := context.WithCancel(context.Background())
	rt := &RetryTicker{Interval: 5 * time.Millisecond, Prober: fakeProber{ok: map[string]bool{"up": true}}}
	go rt.Run(ctx, g)

	require.Eventually(t, func() bool {
		return g.Backends[0].Alive()
	}, 200*time.Millisecond, 5*time.Millisecond)
	cancel()

	assert.False(t, g.Backends[1].Alive())
}

func TestConnectWithRetry_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	dial := func(_ context.Context, _ *model.Backend) (net.Conn, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("refused")
		}
		c1, c2 := net.Pipe()
		go c2.Close()
		return c1, nil
	}
	b := model.NewRegular("x", 1)
	conn, err := ConnectWithRetry(context.Background(), b, 5, dial)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, 3, attempts)
	conn.Close()
}
