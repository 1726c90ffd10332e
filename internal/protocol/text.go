package protocol

import (
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DecodeString turns client bytes into a string. Strict UTF-8 is tried
// first, then MacRoman, then UTF-8 with invalid sequences replaced.
func DecodeString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	if s, err := charmap.Macintosh.NewDecoder().Bytes(b); err == nil {
		return string(s)
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// Obfuscate applies the login/password byte inversion used on the wire.
func Obfuscate(s string) []byte {
	b := []byte(s)
	for i := range b {
		b[i] = 255 - b[i]
	}
	return b
}

// Deobfuscate reverses Obfuscate and decodes the result.
func Deobfuscate(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = 255 - c
	}
	return DecodeString(out)
}

// EncodeDate packs t as year(2) milliseconds(2) seconds(4), counting seconds
// from the start of 1970.
func EncodeDate(t time.Time) []byte {
	secs := t.Unix()
	if secs < 0 {
		secs = 0
	}
	return NewBuilder().
		WriteUint16(1970).
		WriteUint16(0).
		WriteUint32(uint32(secs)).
		Build()
}

// DecodeDate reverses EncodeDate for any base year.
func DecodeDate(b []byte) (time.Time, bool) {
	if len(b) < 8 {
		return time.Time{}, false
	}
	year := int(binary.BigEndian.Uint16(b[0:2]))
	secs := binary.BigEndian.Uint32(b[4:8])
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration(secs) * time.Second), true
}
