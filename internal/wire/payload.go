package wire

import (
	"encoding/binary"
	"net"
)

// Payload is one decoded wire frame: the 54-byte fixed header plus its data
// region. Field order and sizes are the wire contract and must not
// change without changing the protocol.
type Payload struct {
	Type        Type
	LobbyID     string // <=4 ASCII chars, zero-padded on the wire
	PlayerID    string // <=4 ASCII chars, zero-padded on the wire
	SeqNum      uint32
	TTL         byte
	Source      net.IP // 16-byte IPv6 form
	Destination net.IP // 16-byte IPv6 form
	Port        uint32
	Data        []byte
}

// ShortSource returns the canonical compressed textual form of Source, for
// logging and cache keys.
func (p *Payload) ShortSource() string {
	return shortAddr(p.Source)
}

// ShortDestination returns the canonical compressed textual form of
// Destination, for logging and cache keys.
func (p *Payload) ShortDestination() string {
	return shortAddr(p.Destination)
}

func shortAddr(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

// padID zero-pads id to n bytes, truncating if it's longer than n.
func padID(id string, n int) []byte {
	b := make([]byte, n)
	copy(b, id)
	return b
}

// trimID right-trims the zero padding added by padID.
func trimID(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return string(b[:i])
}

// Encode serializes p into a wire frame: 54-byte header followed by p.Data.
func Encode(p *Payload) []byte {
	buf := make([]byte, HeaderSize+len(p.Data))

	buf[0] = byte(p.Type)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(p.Data)))
	copy(buf[5:9], padID(p.LobbyID, idFieldSize))
	copy(buf[9:13], padID(p.PlayerID, idFieldSize))
	binary.BigEndian.PutUint32(buf[13:17], p.SeqNum)
	buf[17] = p.TTL
	copy(buf[18:34], to16(p.Source))
	copy(buf[34:50], to16(p.Destination))
	binary.BigEndian.PutUint32(buf[50:54], p.Port)
	copy(buf[54:], p.Data)

	return buf
}

func to16(ip net.IP) []byte {
	if ip == nil {
		return make([]byte, addrSize)
	}
	v6 := ip.To16()
	if v6 == nil {
		return make([]byte, addrSize)
	}
	return v6
}

// Decode parses a wire frame. It fails with ErrMalformedHeader when b is
// shorter than the fixed header or the declared length would over-read, and
// with ErrUnknownType when the type byte is outside the enumerated set.
func Decode(b []byte) (*Payload, error) {
	if len(b) < HeaderSize {
		return nil, ErrMalformedHeader
	}

	t := Type(b[0])
	if !knownTypes[t] {
		return nil, ErrUnknownType
	}

	length := binary.BigEndian.Uint32(b[1:5])
	if uint64(HeaderSize)+uint64(length) > uint64(len(b)) {
		return nil, ErrMalformedHeader
	}

	p := &Payload{
		Type:        t,
		LobbyID:     trimID(b[5:9]),
		PlayerID:    trimID(b[9:13]),
		SeqNum:      binary.BigEndian.Uint32(b[13:17]),
		TTL:         b[17],
		Source:      net.IP(append([]byte(nil), b[18:34]...)),
		Destination: net.IP(append([]byte(nil), b[34:50]...)),
		Port:        binary.BigEndian.Uint32(b[50:54]),
	}
	if length > 0 {
		p.Data = append([]byte(nil), b[HeaderSize:HeaderSize+length]...)
	}

	return p, nil
}
