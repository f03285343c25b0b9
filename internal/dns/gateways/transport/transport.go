// Package transport provides network listeners that hand raw DNS packets to
// a PacketHandler and write back whatever bytes it returns.
package transport

import (
	"context"
	"net"
)

// ServerTransport defines the interface for DNS server transport implementations.
type ServerTransport interface {
	// Start begins listening and dispatching packets to handler.
	Start(ctx context.Context, handler PacketHandler) error

	// Stop closes the listener. It is safe to call more than once.
	Stop() error

	// Address returns the network address the transport is bound to.
	Address() string
}

// PacketHandler turns one inbound query packet into the reply packet.
// A nil reply with a nil error means nothing is sent back.
type PacketHandler interface {
	HandlePacket(ctx context.Context, packet []byte, client net.Addr) ([]byte, error)
}

// PacketHandlerFunc adapts a function to PacketHandler.
type PacketHandlerFunc func(ctx context.Context, packet []byte, client net.Addr) ([]byte, error)

// HandlePacket calls f.
func (f PacketHandlerFunc) HandlePacket(ctx context.Context, packet []byte, client net.Addr) ([]byte, error) {
	return f(ctx, packet, client)
}

// TransportType represents the different types of DNS transport protocols supported.
type TransportType string

const (
	// TransportUDP represents standard DNS over UDP (RFC 1035)
	TransportUDP TransportType = "udp"

	// TransportTCP represents DNS over TCP - not implemented
	TransportTCP TransportType = "tcp"
)
