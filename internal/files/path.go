package files

import (
	"encoding/binary"
	"path/filepath"
	"strings"

	"github.com/phxd-project/phxd/internal/protocol"
)

// ParseDirPath decodes a DIR object: count(2), then per level
// reserved(2) length(1) name.
func ParseDirPath(b []byte) []string {
	if len(b) < 2 {
		return nil
	}
	count := int(binary.BigEndian.Uint16(b[0:2]))
	pos := 2
	var parts []string
	for i := 0; i < count; i++ {
		if len(b) < pos+3 {
			break
		}
		size := int(b[pos+2])
		pos += 3
		if len(b) < pos+size {
			break
		}
		parts = append(parts, protocol.DecodeString(b[pos:pos+size]))
		pos += size
	}
	return parts
}

// EncodeDirPath is the inverse of ParseDirPath.
func EncodeDirPath(parts []string) []byte {
	b := protocol.NewBuilder().WriteUint16(uint16(len(parts)))
	for _, p := range parts {
		b.WriteUint16(0).WritePString(p)
	}
	return b.Build()
}

// BuildPath joins root, the directory levels and an optional file name.
// Empty, "." and ".." directory levels and levels holding a path
// separator are dropped so the result never leaves root. A non-empty
// name that is not a single plain component is rejected and ok is false.
func BuildPath(root string, dir []string, name string) (path string, ok bool) {
	elems := []string{root}
	for _, part := range dir {
		if safeComponent(part) {
			elems = append(elems, part)
		}
	}
	if name != "" {
		if !safeComponent(name) {
			return "", false
		}
		elems = append(elems, name)
	}
	return filepath.Join(elems...), true
}

func safeComponent(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}
