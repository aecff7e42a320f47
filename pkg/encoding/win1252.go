package encoding

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ToUTF8 normalizes a spreadsheet export to UTF-8
// Valid UTF-8 input is returned as is (minus a leading BOM); anything else is
// treated as Windows-1252, the default "CSV" encoding of Excel on Windows
func ToUTF8(b []byte) []byte {
	if len(b) == 0 {
		return b
	}

	b = bytes.TrimPrefix(b, utf8BOM)
	if utf8.Valid(b) {
		return b
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		// Fallback: return raw bytes if decoding fails (better than crashing)
		return b
	}

	return decoded
}
