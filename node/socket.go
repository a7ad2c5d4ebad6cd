package node

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/aethiopicuschan/p2ptp/metrics"
	"github.com/aethiopicuschan/p2ptp/wire"
	"go.uber.org/zap"
)

// PacketConn is the datagram socket a Socket reads from and writes to.
// *net.UDPConn implements it.
type PacketConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// packetHandler receives classified datagrams.
type packetHandler interface {
	handlePacket(s *Socket, typ wire.PacketType, pkt []byte, from netip.AddrPort)
}

// Socket owns one bound PacketConn and its receive goroutine.
type Socket struct {
	conn    PacketConn
	handler packetHandler
	fw      Firewall
	log     *zap.Logger

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

func newSocket(conn PacketConn, handler packetHandler, fw Firewall, log *zap.Logger) *Socket {
	return &Socket{
		conn:    conn,
		handler: handler,
		fw:      fw,
		log:     log,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// LocalAddr returns the bound address.
func (s *Socket) LocalAddr() netip.AddrPort {
	if ua, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	ap, _ := netip.ParseAddrPort(s.conn.LocalAddr().String())
	return ap
}

// Send writes pkt to addr.
func (s *Socket) Send(addr netip.AddrPort, pkt []byte) error {
	_, err := s.conn.WriteToUDPAddrPort(pkt, addr)
	return err
}

// Start begins the receive loop. It must be called at most once.
func (s *Socket) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.recvLoop(ctx)
	})
}

// Close closes the connection and waits for the receive loop to exit if
// it was started.
func (s *Socket) Close() error {
	var err error
	started := true
	s.startOnce.Do(func() { started = false })
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	if started {
		<-s.done
	}
	return err
}

func (s *Socket) recvLoop(ctx context.Context) {
	defer close(s.done)

	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		default:
		}

		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.closed:
				return
			default:
			}
			s.log.Debug("read failed", zap.Error(err))
			continue
		}
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())

		if s.fw.IsBlocked(from) {
			metrics.DroppedPacketsTotal.WithLabelValues("blocked").Inc()
			continue
		}
		typ, err := wire.Classify(buf[:n])
		if err != nil {
			metrics.DroppedPacketsTotal.WithLabelValues("unknown_type").Inc()
			continue
		}

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		s.handler.handlePacket(s, typ, pkt, from)
	}
}
