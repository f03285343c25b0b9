// Package upstream forwards raw DNS query packets to upstream resolvers.
package upstream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"
)

// Error message constants for consistent error handling
const (
	errNoServersProvided = "no upstream DNS servers provided"
	errServerFailed      = "server %s: %w"
	errAllServersFailed  = "all %d upstream servers failed"
	errQueryTimeout      = "query timeout after %v"
	errFailedToConnect   = "failed to connect: %w"
	errWriteFailed       = "write failed: %w"
	errReadFailed        = "read failed: %w"
)

// maxPacketSize covers EDNS0 payloads advertised by common stubs.
const maxPacketSize = 4096

var (
	// ErrShortPacket is returned for a query or reply shorter than a DNS header.
	ErrShortPacket = errors.New("packet shorter than dns header")
	// ErrIDMismatch is returned when a reply's transaction ID differs from the query's.
	ErrIDMismatch = errors.New("reply id does not match query")
	// ErrNotResponse is returned when a reply does not have the QR bit set.
	ErrNotResponse = errors.New("reply is not a response")
)

// Forwarder sends query packets unchanged to upstream servers over UDP and
// returns the first valid reply unchanged.
type Forwarder struct {
	servers  []string      // upstream DNS servers, e.g. "1.1.1.1:53"
	timeout  time.Duration // default exchange timeout
	parallel bool          // race all servers instead of trying them in order
	dial     DialFunc
}

// DialFunc establishes a network connection; net.Dialer.DialContext by default.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures a Forwarder.
type Options struct {
	// required parameters
	Servers  []string
	Timeout  time.Duration
	Parallel bool
	// options to inject for testing purposes
	Dial DialFunc
}

// NewForwarder creates a Forwarder. The timeout defaults to 5 seconds.
func NewForwarder(opts Options) (*Forwarder, error) {
	if len(opts.Servers) == 0 {
		return nil, errors.New(errNoServersProvided)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{}).DialContext
	}
	return &Forwarder{
		servers:  opts.Servers,
		timeout:  opts.Timeout,
		parallel: opts.Parallel,
		dial:     opts.Dial,
	}, nil
}

// Servers returns the configured upstream addresses.
func (f *Forwarder) Servers() []string { return f.servers }

// ensureContextDeadline applies the default timeout when ctx has no deadline.
func (f *Forwarder) ensureContextDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok {
		return context.WithTimeout(ctx, f.timeout)
	}
	return ctx, nil
}

// Exchange forwards packet and returns the upstream reply bytes.
func (f *Forwarder) Exchange(ctx context.Context, packet []byte) ([]byte, error) {
	if len(packet) < 12 {
		return nil, ErrShortPacket
	}
	ctx, cancel := f.ensureContextDeadline(ctx)
	if cancel != nil {
		defer cancel()
	}

	if f.parallel {
		return f.exchangeParallel(ctx, packet)
	}
	return f.exchangeSerial(ctx, packet)
}

// exchangeSerial tries each server in order until one answers.
func (f *Forwarder) exchangeSerial(ctx context.Context, packet []byte) ([]byte, error) {
	var lastErr error
	for _, server := range f.servers {
		reply, err := f.exchangeOne(ctx, server, packet)
		if err == nil {
			return reply, nil
		}
		lastErr = fmt.Errorf(errServerFailed, server, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf(errAllServersFailed+": %w", len(f.servers), lastErr)
}

// exchangeParallel sends to every server at once and returns the first answer.
func (f *Forwarder) exchangeParallel(ctx context.Context, packet []byte) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	replies := make(chan []byte, 1)
	failures := make(chan error, len(f.servers))

	for _, server := range f.servers {
		go func(srv string) {
			reply, err := f.exchangeOne(ctx, srv, packet)
			if err != nil {
				failures <- fmt.Errorf(errServerFailed, srv, err)
				return
			}
			select {
			case replies <- reply:
			default:
			}
		}(server)
	}

	var errs []error
	for i := 0; i < len(f.servers); i++ {
		select {
		case reply := <-replies:
			return reply, nil
		case err := <-failures:
			errs = append(errs, err)
		case <-ctx.Done():
			return nil, fmt.Errorf(errQueryTimeout, f.timeout)
		}
	}
	return nil, fmt.Errorf(errAllServersFailed+": %w", len(f.servers), errors.Join(errs...))
}

// exchangeOne performs one UDP round trip and validates the reply header.
func (f *Forwarder) exchangeOne(ctx context.Context, server string, packet []byte) ([]byte, error) {
	conn, err := f.dial(ctx, "udp", server)
	if err != nil {
		return nil, fmt.Errorf(errFailedToConnect, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	type result struct {
		reply []byte
		err   error
	}
	resultChan := make(chan result, 1)

	go func() {
		if _, err := conn.Write(packet); err != nil {
			resultChan <- result{err: fmt.Errorf(errWriteFailed, err)}
			return
		}
		buf := make([]byte, maxPacketSize)
		n, err := conn.Read(buf)
		if err != nil {
			resultChan <- result{err: fmt.Errorf(errReadFailed, err)}
			return
		}
		reply := buf[:n]
		resultChan <- result{reply: reply, err: validateReply(packet, reply)}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			return nil, res.err
		}
		return res.reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func validateReply(query, reply []byte) error {
	if len(reply) < 12 {
		return ErrShortPacket
	}
	if binary.BigEndian.Uint16(query[0:2]) != binary.BigEndian.Uint16(reply[0:2]) {
		return ErrIDMismatch
	}
	if reply[2]&0x80 == 0 {
		return ErrNotResponse
	}
	return nil
}
