package balancer

import (
	"math/rand"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreproxy/coreproxy/internal/model"
)

func mkGroup(priorities ...int) *model.BalancerGroup {
	g := &model.BalancerGroup{}
	for _, p := range priorities {
		g.Add(model.NewRegular("127.0.0.1:0", p))
	}
	return g
}

func TestPickRandom_RespectsDisabled(t *testing.T) {
	g := mkGroup(5, 5)
	g.Backends[0].Disabled = true
	g.Recompute()

	s := &Selector{Rand: rand.New(rand.NewSource(1))}
	for i := 0; i < 20; i++ {
		b, ok := s.pickOnce(g)
		require.True(t, ok)
		assert.Same(t, g.Backends[1], b)
	}
}

func TestPickRandom_Distribution(t *testing.T) {
	g := mkGroup(1, 9)
	s := &Selector{Rand: rand.New(rand.NewSource(42))}
	counts := map[*model.Backend]int{}
	for i := 0; i < 1000; i++ {
		b, ok := s.pickOnce(g)
		require.True(t, ok)
		counts[b]++
	}
	assert.Greater(t, counts[g.Backends[1]], counts[g.Backends[0]])
}

func TestPickIWRR_NoConsecutiveRepeat(t *testing.T) {
	g := &model.BalancerGroup{Algo: model.AlgoIWRR}
	g.Add(model.NewRegular("a", 1))
	g.Add(model.NewRegular("b", 1))

	s := &Selector{}
	var last *model.Backend
	repeats := 0
	for i := 0; i < 10; i++ {
		b, ok := s.pickOnce(g)
		require.True(t, ok)
		if b == last {
			repeats++
		}
		last = b
	}
	assert.Zero(t, repeats)
}

func TestGetBackend_NoLiveReturnsErr(t *testing.T) {
	svc := &model.Service{}
	svc.Backends.Normal.Add(model.NewRegular("a", 1))
	svc.Backends.Normal.Backends[0].SetAlive(false)
	svc.Backends.Normal.Recompute()

	s := &Selector{}
	_, _, err := s.GetBackend(svc, nil, &model.Request{})
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestSessionKey_IP_Slash24(t *testing.T) {
	p := model.SessionPolicy{Type: model.SessionIP}
	k1 := SessionKey(p, &model.Request{}, mustParseIP("192.168.1.5"))
	k2 := SessionKey(p, &model.Request{}, mustParseIP("192.168.1.200"))
	assert.Equal(t, k1, k2)
}

func mustParseIP(s string) net.IP {
	return net.ParseIP(s)
}
