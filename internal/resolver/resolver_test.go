package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreproxy/coreproxy/internal/model"
)

// startFakeDNS spins up a local UDP DNS server answering fixed records, so
// resolveA/resolveSRV can be exercised without real network access.
func startFakeDNS(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: handler}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestResolveA_ReturnsAddresses(t *testing.T) {
	addr := startFakeDNS(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if r.Question[0].Qtype == dns.TypeA {
			rr, _ := dns.NewRR(r.Question[0].Name + " 60 IN A 10.0.0.5")
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})

	c, err := NewClient(addr, 2*time.Second)
	require.NoError(t, err)

	out, err := c.Resolve(context.Background(), "svc.internal", 8080, model.ResolveAll)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "10.0.0.5", out[0].Host)
	assert.Equal(t, 8080, out[0].Port)
}

func TestResolveSRV_AppliesTargetPriority(t *testing.T) {
	addr := startFakeDNS(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		switch r.Question[0].Qtype {
		case dns.TypeSRV:
			rr, _ := dns.NewRR(r.Question[0].Name + " 60 IN SRV 5 0 9000 target.internal.")
			m.Answer = append(m.Answer, rr)
		case dns.TypeA:
			rr, _ := dns.NewRR(r.Question[0].Name + " 60 IN A 10.0.0.9")
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})

	c, err := NewClient(addr, 2*time.Second)
	require.NoError(t, err)

	out, err := c.Resolve(context.Background(), "svc.internal", 0, model.ResolveSRV)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "10.0.0.9", out[0].Host)
	assert.Equal(t, 9000, out[0].Port)
	assert.Equal(t, 5, out[0].Priority)
}

func TestExpander_Sync_AddsAndQueuesRemoval(t *testing.T) {
	calls := 0
	addr := startFakeDNS(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if r.Question[0].Qtype == dns.TypeA {
			calls++
			host := "10.0.0.1"
			if calls > 1 {
				host = "10.0.0.2"
			}
			rr, _ := dns.NewRR(r.Question[0].Name + " 60 IN A " + host)
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})

	c, err := NewClient(addr, 2*time.Second)
	require.NoError(t, err)
	exp := &Expander{Client: c}

	group := &model.BalancerGroup{}
	matrix := &model.Backend{Kind: model.BKMatrix, Hostname: "svc.internal", Port: 80, ResolveAddrs: model.ResolveAll}

	added, removed, err := exp.Sync(context.Background(), group, matrix)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, removed)
	assert.Len(t, matrix.Children(), 1)
	firstAddr := matrix.Children()[0].Addr

	added, removed, err = exp.Sync(context.Background(), group, matrix)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)

	var old *model.Backend
	for _, c := range matrix.Children() {
		if c.Addr == firstAddr {
			old = c
		}
	}
	require.NotNil(t, old)
	assert.True(t, old.Disabled)
}
