// Package mcast wraps the IPv6 multicast socket used by the DTN overlay:
// joining the well-known group and controlling the per-packet hop limit, which the standard net package cannot express.
package mcast

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv6"
)

// Conn is a joined IPv6 multicast socket with a fixed outgoing hop limit.
type Conn struct {
	pc       *ipv6.PacketConn
	group    *net.UDPAddr
	hopLimit int
}

// Join opens a UDP socket on port, joins the multicast group on every
// available multicast-capable interface, and fixes the outgoing hop limit
// to hopLimit for every subsequent Send.
func Join(group string, port int, hopLimit int) (*Conn, error) {
	groupAddr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}
	if groupAddr.IP == nil {
		return nil, fmt.Errorf("mcast: invalid group address %q", group)
	}

	conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("mcast: listening on port %d: %w", port, err)
	}

	pc := ipv6.NewPacketConn(conn)
	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: listing interfaces: %w", err)
	}

	joined := false
	for _, iface := range ifaces {
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, groupAddr); err == nil {
			joined = true
		}
	}
	if !joined {
		conn.Close()
		return nil, fmt.Errorf("mcast: no multicast-capable interface joined group %s", group)
	}

	if err := pc.SetMulticastHopLimit(hopLimit); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: setting hop limit: %w", err)
	}
	if err := pc.SetControlMessage(ipv6.FlagHopLimit, true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: enabling hop-limit control: %w", err)
	}

	return &Conn{pc: pc, group: groupAddr, hopLimit: hopLimit}, nil
}

// Send writes b to the joined group with the fixed hop limit.
func (c *Conn) Send(b []byte) error {
	cm := &ipv6.ControlMessage{HopLimit: c.hopLimit}
	_, err := c.pc.WriteTo(b, cm, c.group)
	return err
}

// ReadFrom reads one datagram, returning its payload, source address, and
// the hop limit it arrived with (used to derive distance-in-hops).
func (c *Conn) ReadFrom(buf []byte) (n int, src net.Addr, hopLimit int, err error) {
	n, cm, src, err := c.pc.ReadFrom(buf)
	if err != nil {
		return 0, nil, 0, err
	}
	if cm != nil {
		hopLimit = cm.HopLimit
	}
	return n, src, hopLimit, nil
}

// SetReadDeadline bounds the next ReadFrom, letting callers poll a
// cancellation signal on the same 2 s cadence as the wired-socket loops.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.pc.SetReadDeadline(t)
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.pc.Close()
}
