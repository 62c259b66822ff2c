package compare

import (
	"encoding/hex"
	"hash"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Digest fingerprints result sets with BLAKE2b-256 over an unambiguous encoding of their cells.
// Equal inputs give equal digests across processes.
func Digest(sets ...ResultSet) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only fails for keys longer than 64 bytes
		panic(err)
	}
	for _, set := range sets {
		writeField(h, "T", strconv.Itoa(len(set.Columns)))
		for _, c := range set.Columns {
			writeField(h, "C", c)
		}
		writeField(h, "R", strconv.Itoa(len(set.Rows)))
		for _, row := range set.Rows {
			for _, v := range row {
				writeCell(h, v)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeCell(h hash.Hash, v any) {
	switch x := v.(type) {
	case nil:
		writeField(h, "N", "")
	case bool:
		writeField(h, "B", strconv.FormatBool(x))
	case float64:
		writeField(h, "F", strconv.FormatFloat(x, 'g', -1, 64))
	case string:
		writeField(h, "S", x)
	default:
		writeField(h, "S", toString(x))
	}
}

// writeField length-prefixes every value so no two encodings collide.
func writeField(h hash.Hash, tag, value string) {
	h.Write([]byte(tag))
	h.Write([]byte(strconv.Itoa(len(value))))
	h.Write([]byte{':'})
	h.Write([]byte(value))
}
