// Package testutil provides shared fakes for exercising the transport loops
// in internal/lobby, internal/client, and internal/gateway without real
// sockets.
package testutil

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// PacketConn is an in-memory net.PacketConn. Datagrams written to one
// registered address are delivered to that peer's ReadFrom, with the
// sender's own address as the return address — enough to exercise the
// inbound/outbound loops end to end in tests.
type PacketConn struct {
	addr *net.UDPAddr

	mu     sync.Mutex
	peers  map[string]*PacketConn
	inbox  chan packet
	closed bool
}

type packet struct {
	data []byte
	from net.Addr
}

// NewPacketConnPair returns two connected fakes addressed to each other,
// modeling a client and a lobby/gateway socket talking over UDP.
func NewPacketConnPair(addrA, addrB string) (*PacketConn, *PacketConn, error) {
	a, err := newPacketConn(addrA)
	if err != nil {
		return nil, nil, err
	}
	b, err := newPacketConn(addrB)
	if err != nil {
		return nil, nil, err
	}
	a.peers = map[string]*PacketConn{b.addr.String(): b}
	b.peers = map[string]*PacketConn{a.addr.String(): a}
	return a, b, nil
}

func newPacketConn(addr string) (*PacketConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp6", addr)
	if err != nil {
		return nil, fmt.Errorf("testutil: resolving %q: %w", addr, err)
	}
	return &PacketConn{
		addr:  udpAddr,
		inbox: make(chan packet, 64),
	}, nil
}

// WriteTo delivers b to addr's inbox if addr is a known peer.
func (p *PacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	p.mu.Lock()
	peer, ok := p.peers[addr.String()]
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}
	if !ok {
		return 0, fmt.Errorf("testutil: no peer registered for %s", addr)
	}

	cp := append([]byte(nil), b...)
	select {
	case peer.inbox <- packet{data: cp, from: p.addr}:
		return len(b), nil
	default:
		return 0, fmt.Errorf("testutil: peer inbox full")
	}
}

// ReadFrom blocks until a datagram arrives or a fixed 2 s elapses; deadlines
// set through SetReadDeadline are ignored.
func (p *PacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case pkt := <-p.inbox:
		n := copy(b, pkt.data)
		return n, pkt.from, nil
	case <-time.After(2 * time.Second):
		return 0, nil, fmt.Errorf("testutil: read timeout")
	}
}

// Close marks the connection closed; further writes fail.
func (p *PacketConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *PacketConn) LocalAddr() net.Addr                { return p.addr }
func (p *PacketConn) SetDeadline(t time.Time) error      { return nil }
func (p *PacketConn) SetReadDeadline(t time.Time) error  { return nil }
func (p *PacketConn) SetWriteDeadline(t time.Time) error { return nil }
