package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/haukened/nullroute/internal/dns/common/log"
)

// readBufferSize accepts EDNS0-sized queries.
const readBufferSize = 4096

// UDPTransport implements ServerTransport for DNS over UDP. Every packet is
// handled on its own goroutine.
type UDPTransport struct {
	addr   string
	conn   *net.UDPConn
	logger log.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewUDPTransport creates a new UDP transport instance.
func NewUDPTransport(addr string, logger log.Logger) *UDPTransport {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &UDPTransport{
		addr:   addr,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start binds the UDP socket and starts the receive loop. The loop exits
// when ctx is cancelled or Stop is called.
func (t *UDPTransport) Start(ctx context.Context, handler PacketHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("UDP transport already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", t.addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", t.addr, err)
	}

	t.conn = conn
	t.addr = conn.LocalAddr().String()
	t.running = true
	t.stopCh = make(chan struct{})

	t.logger.Info(log.Fields{
		"transport": "udp",
		"address":   t.addr,
	}, "transport_started")

	go t.closeOnDone(ctx, t.stopCh)
	t.wg.Add(1)
	go t.listenLoop(ctx, conn, handler)

	return nil
}

// Stop closes the socket and waits for in-flight packets to finish.
func (t *UDPTransport) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}

	close(t.stopCh)

	var closeErr error
	if t.conn != nil {
		closeErr = t.conn.Close()
		if closeErr != nil {
			t.logger.Warn(log.Fields{"error": closeErr.Error()}, "transport_close_failed")
		}
	}
	t.running = false
	t.mu.Unlock()

	t.wg.Wait()

	t.logger.Info(log.Fields{
		"transport": "udp",
		"address":   t.addr,
	}, "transport_stopped")

	return closeErr
}

// Address returns the bound address once started, the configured one before.
func (t *UDPTransport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.addr
}

// closeOnDone unblocks the read loop when ctx is cancelled.
func (t *UDPTransport) closeOnDone(ctx context.Context, stopCh chan struct{}) {
	select {
	case <-ctx.Done():
		_ = t.Stop()
	case <-stopCh:
	}
}

func (t *UDPTransport) isRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// listenLoop reads packets until the socket is closed.
func (t *UDPTransport) listenLoop(ctx context.Context, conn *net.UDPConn, handler PacketHandler) {
	defer t.wg.Done()
	buffer := make([]byte, readBufferSize)

	for {
		n, clientAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if !t.isRunning() {
				return
			}
			t.logger.Warn(log.Fields{"error": err.Error()}, "transport_read_failed")
			continue
		}

		packet := make([]byte, n)
		copy(packet, buffer[:n])
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handlePacket(ctx, conn, packet, clientAddr, handler)
		}()
	}
}

// handlePacket runs the handler for one packet and writes the reply.
func (t *UDPTransport) handlePacket(ctx context.Context, conn *net.UDPConn, data []byte, clientAddr *net.UDPAddr, handler PacketHandler) {
	reply, err := handler.HandlePacket(ctx, data, clientAddr)
	if err != nil {
		t.logger.Warn(log.Fields{
			"client": clientAddr.String(),
			"size":   len(data),
			"error":  err.Error(),
		}, "transport_handle_failed")
		return
	}
	if len(reply) == 0 {
		return
	}

	if _, err := conn.WriteToUDP(reply, clientAddr); err != nil {
		t.logger.Error(log.Fields{
			"client": clientAddr.String(),
			"error":  err.Error(),
		}, "transport_write_failed")
		return
	}

	t.logger.Debug(log.Fields{
		"client": clientAddr.String(),
		"size":   len(reply),
	}, "transport_reply_sent")
}
