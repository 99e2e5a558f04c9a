package wire

// Change is a 6-byte change record: the expected current tile at (CurX,
// CurY) and the requested/authoritative next tile at (NextX, NextY). Used as
// both client intent and server delta.
type Change struct {
	CurX, CurY   byte
	CurTile      byte
	NextX, NextY byte
	NextTile     byte
}

const changeSize = 6

// EncodeChanges concatenates changes into an ACTIONS/STATE-delta data region.
func EncodeChanges(changes []Change) []byte {
	buf := make([]byte, 0, len(changes)*changeSize)
	for _, c := range changes {
		buf = append(buf, c.CurX, c.CurY, c.CurTile, c.NextX, c.NextY, c.NextTile)
	}
	return buf
}

// DecodeChanges splits data into len(data)/6 consecutive change records.
// Residual trailing bytes that don't form a full record are ignored.
func DecodeChanges(data []byte) []Change {
	n := len(data) / changeSize
	changes := make([]Change, n)
	for i := 0; i < n; i++ {
		b := data[i*changeSize : i*changeSize+changeSize]
		changes[i] = Change{
			CurX: b[0], CurY: b[1], CurTile: b[2],
			NextX: b[3], NextY: b[4], NextTile: b[5],
		}
	}
	return changes
}
