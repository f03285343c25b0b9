package dnscache

import (
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/haukened/nullroute/internal/dns/common/clock"
)

func BenchmarkDnsCache_Get(b *testing.B) {
	c, err := New(1024, time.Hour, clock.NewMockClock(epoch))
	if err != nil {
		b.Fatal(err)
	}
	req := new(dns.Msg)
	req.SetQuestion("bench.example.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(req)
	rr, _ := dns.NewRR("bench.example. 300 IN A 192.0.2.1")
	resp.Answer = append(resp.Answer, rr)
	reply, _ := resp.Pack()
	c.Put(question(1, "bench.example"), reply)

	q := question(2, "bench.example")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := c.Get(q); !ok {
			b.Fatal("miss")
		}
	}
}
