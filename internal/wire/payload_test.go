package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func samplePayload(data []byte) *Payload {
	return &Payload{
		Type:        Actions,
		LobbyID:     "ab1",
		PlayerID:    "p2",
		SeqNum:      42,
		TTL:         InitialTTL,
		Source:      net.ParseIP("fe80::1"),
		Destination: net.ParseIP("fe80::2"),
		Port:        9999,
		Data:        data,
	}
}

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		EncodeChanges([]Change{{1, 1, 10, 2, 1, 0}}),
		make([]byte, 1500-HeaderSize),
	}

	for _, data := range cases {
		p := samplePayload(data)
		got, err := Decode(Encode(p))
		require.NoError(t, err)
		require.Equal(t, p.Type, got.Type)
		require.Equal(t, p.LobbyID, got.LobbyID)
		require.Equal(t, p.PlayerID, got.PlayerID)
		require.Equal(t, p.SeqNum, got.SeqNum)
		require.Equal(t, p.TTL, got.TTL)
		require.True(t, p.Source.Equal(got.Source))
		require.True(t, p.Destination.Equal(got.Destination))
		require.Equal(t, p.Port, got.Port)
		require.Equal(t, len(p.Data), len(got.Data))
	}
}

func TestIDPaddingAndTrim(t *testing.T) {
	p := samplePayload(nil)
	p.LobbyID = "x"
	p.PlayerID = ""
	got, err := Decode(Encode(p))
	require.NoError(t, err)
	require.Equal(t, "x", got.LobbyID)
	require.Equal(t, "", got.PlayerID)
}

func TestDecodeMalformedHeader(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	require.ErrorIs(t, err, ErrMalformedHeader)

	p := samplePayload([]byte("hi"))
	buf := Encode(p)
	// Corrupt the length field to claim more data than exists.
	buf[1] = 0xFF
	_, err = Decode(buf)
	require.ErrorIs(t, err, ErrMalformedHeader)
}

func TestDecodeUnknownType(t *testing.T) {
	p := samplePayload(nil)
	buf := Encode(p)
	buf[0] = 0xEE
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestChangeRecordCodec(t *testing.T) {
	changes := []Change{
		{1, 1, 10, 2, 1, 0},
		{2, 1, 0, 2, 1, 10},
	}
	data := EncodeChanges(changes)
	require.Len(t, data, 12)

	// Residual bytes are ignored.
	data = append(data, 0x01, 0x02)
	decoded := DecodeChanges(data)
	require.Equal(t, changes, decoded)
}
