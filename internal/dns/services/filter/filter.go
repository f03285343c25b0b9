// Package filter is the packet interception loop: decode the question name,
// classify it, then answer NXDOMAIN or forward the untouched query upstream.
package filter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/haukened/nullroute/internal/dns/common/clock"
	"github.com/haukened/nullroute/internal/dns/common/log"
	"github.com/haukened/nullroute/internal/dns/domain"
)

type Filter struct {
	decider   Decider
	codec     PacketCodec
	forwarder Forwarder
	cache     ReplyCache
	observer  QueryObserver
	clock     clock.Clock
	logger    log.Logger
}

type Options struct {
	Decider   Decider
	Codec     PacketCodec
	Forwarder Forwarder
	Cache     ReplyCache
	Observer  QueryObserver
	Clock     clock.Clock
	Logger    log.Logger
}

// New creates a Filter. Cache, Observer, Clock and Logger are optional.
func New(opts Options) (*Filter, error) {
	if opts.Decider == nil || opts.Codec == nil || opts.Forwarder == nil {
		return nil, errors.New("filter requires a decider, codec and forwarder")
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Filter{
		decider:   opts.Decider,
		codec:     opts.Codec,
		forwarder: opts.Forwarder,
		cache:     opts.Cache,
		observer:  opts.Observer,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}, nil
}

// HandlePacket returns the reply for one intercepted query packet. Packets
// whose question cannot be decoded are forwarded unmodified.
func (f *Filter) HandlePacket(ctx context.Context, packet []byte, client net.Addr) ([]byte, error) {
	name, err := f.codec.DecodeQuestionName(packet)
	if err != nil {
		if !errors.Is(err, domain.ErrMalformedPacket) {
			return nil, err
		}
		f.observer.ObserveMalformed()
		return f.forward(ctx, packet)
	}

	decision := f.decider.Decide(name)
	f.observer.ObserveQuery(decision.Verdict)

	if decision.IsBlocked() {
		f.logger.Debug(log.Fields{
			"name":   decision.Name,
			"apex":   decision.Apex,
			"client": addrString(client),
		}, "filter_blocked")
		reply, err := f.codec.SynthesizeNegativeResponse(packet)
		if err != nil {
			return nil, fmt.Errorf("synthesize response for %s: %w", name, err)
		}
		return reply, nil
	}

	return f.forwardCached(ctx, packet)
}

// forwardCached answers an allowed query from the reply cache when possible.
// Queries whose type and class cannot be read bypass the cache.
func (f *Filter) forwardCached(ctx context.Context, packet []byte) ([]byte, error) {
	if f.cache == nil {
		return f.forward(ctx, packet)
	}
	q, err := f.codec.DecodeQuery(packet)
	if err != nil {
		return f.forward(ctx, packet)
	}
	if reply, ok := f.cache.Get(q); ok {
		return reply, nil
	}
	reply, err := f.forward(ctx, packet)
	if err != nil {
		return nil, err
	}
	f.cache.Put(q, reply)
	return reply, nil
}

func (f *Filter) forward(ctx context.Context, packet []byte) ([]byte, error) {
	start := f.clock.Now()
	reply, err := f.forwarder.Exchange(ctx, packet)
	f.observer.ObserveUpstream(f.clock.Now().Sub(start), err)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	return reply, nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

type nopObserver struct{}

func (nopObserver) ObserveQuery(domain.Verdict)          {}
func (nopObserver) ObserveMalformed()                    {}
func (nopObserver) ObserveUpstream(time.Duration, error) {}
