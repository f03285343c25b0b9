package filter

import (
	"context"
	"time"

	"github.com/haukened/nullroute/internal/dns/domain"
)

// Decider classifies a hostname. blocklist.Repository satisfies it.
type Decider interface {
	Decide(name string) domain.BlockDecision
}

// PacketCodec is the subset of wire.Codec the filter needs.
type PacketCodec interface {
	DecodeQuestionName(packet []byte) (string, error)
	DecodeQuery(packet []byte) (domain.DNSQuery, error)
	SynthesizeNegativeResponse(query []byte) ([]byte, error)
}

// ReplyCache holds upstream replies to allowed queries.
type ReplyCache interface {
	Get(q domain.DNSQuery) ([]byte, bool)
	Put(q domain.DNSQuery, reply []byte)
}

// Forwarder exchanges a raw query with an upstream resolver.
// upstream.Forwarder satisfies it.
type Forwarder interface {
	Exchange(ctx context.Context, packet []byte) ([]byte, error)
}

// QueryObserver records per-packet outcomes. metrics.Metrics satisfies it.
type QueryObserver interface {
	ObserveQuery(v domain.Verdict)
	ObserveMalformed()
	ObserveUpstream(d time.Duration, err error)
}
