package location

import "math/rand/v2"

// alphabet is a 57-character set: alphanumeric, minus visually ambiguous
// 0/O/1/I/l.
const alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// idLen is the fixed length of a short-uuid.
const idLen = 4

// ShortUUID returns a 4-character base-57 identifier. It is collision
// resistant enough at the scale of at most four players per lobby and a
// modest number of concurrent lobbies; callers that need a guarantee (lobby
// and player admission) must regenerate on collision themselves.
func ShortUUID() string {
	b := make([]byte, idLen)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
