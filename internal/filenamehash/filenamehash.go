// Package filenamehash implements §6's on-disk filename-safety transform:
// an illegal or over-length name is truncated and suffixed with an 8-hex
// digit hash, and names colliding with reserved Windows device names are
// percent-encoded.
package filenamehash

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// maxLen bounds a hashed name's UTF-16 code-unit length, matching the
// historical implementation's conservative MAX_LEN constant.
const maxLen = 55

// illegalChars are never allowed anywhere in a safe filename: path
// separators and the characters Windows and most filesystems reject.
const illegalChars = "/\\:*?\"<>|;#"

// illegalFirst/illegalLast are characters the Windows shell dislikes at
// the very start or end of a filename even though the filesystem itself
// tolerates them.
const illegalFirst = "."
const illegalLast = ". ~"

// reservedNames are Windows device names that are forbidden as a full
// filename, or as the portion of a filename before the first dot.
var reservedNames = []string{
	"CON", "PRN", "AUX", "NUL",
	"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
	"COM¹", "COM²", "COM³",
	"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
	"LPT¹", "LPT²", "LPT³",
}

// hash is phong's linear congruential hash over name's UTF-16 code units,
// taken byte-by-byte in big-endian order to match the historical
// implementation's treatment of a UTF-16 buffer as raw bytes.
func hash(name string) uint32 {
	h := uint32(1)
	for _, r := range name {
		buf := utf16.Encode([]rune{r})
		for _, u := range buf {
			hi := byte(u >> 8)
			lo := byte(u)
			h = 0x63c63cd9*h + 0x9c39c33d + uint32(hi)
			h = 0x63c63cd9*h + 0x9c39c33d + uint32(lo)
		}
	}
	return h
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += len(utf16.Encode([]rune{r}))
	}
	return n
}

// firstIllegalIndex returns the rune index of the first forced-truncation
// point in name: an illegal character anywhere, or an illegal first/last
// character, or -1 if name needs no truncation on this basis.
func firstIllegalIndex(name string) int {
	runes := []rune(name)
	for i, r := range runes {
		if strings.ContainsRune(illegalChars, r) {
			return i
		}
	}
	if len(runes) == 0 {
		return -1
	}
	if strings.ContainsRune(illegalFirst, runes[0]) {
		return 0
	}
	if strings.ContainsRune(illegalLast, runes[len(runes)-1]) {
		return len(runes) - 1
	}
	return -1
}

// HashIfNecessary truncates name and appends an 8-hex-digit hash suffix
// when it contains an illegal character, starts/ends with one the shell
// dislikes, or exceeds maxLen UTF-16 code units (§6). An already-safe
// name is returned unchanged.
func HashIfNecessary(name string) string {
	if name == "" {
		return name
	}

	runes := []rune(name)
	keptLength := -1

	if idx := firstIllegalIndex(name); idx != -1 {
		keptLength = idx
	} else if utf16Len(name) > maxLen {
		keptLength = maxLen - 8
		if keptLength > len(runes) {
			keptLength = len(runes)
		}
	}

	if keptLength < 0 {
		return name
	}
	if keptLength > len(runes) {
		keptLength = len(runes)
	}

	suffix := fmt.Sprintf("%08x", hash(name))
	return string(runes[:keptLength]) + suffix
}

// EncodeReservedName percent-encodes name if it is (or begins, up to the
// first dot, as) a reserved Windows device name, leaving any remaining
// extension untouched (§6).
func EncodeReservedName(name string) string {
	for _, reserved := range reservedNames {
		if !strings.EqualFold(firstRunes(name, len([]rune(reserved))), reserved) {
			continue
		}
		n := len([]rune(reserved))
		runes := []rune(name)
		if len(runes) == n || runes[n] == '.' {
			return percentEncodeASCII(reserved) + string(runes[n:])
		}
	}
	return name
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if n > len(runes) {
		return s
	}
	return string(runes[:n])
}

func percentEncodeASCII(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		fmt.Fprintf(&b, "%%%02X", s[i])
	}
	return b.String()
}

// SafeName applies EncodeReservedName then HashIfNecessary, the order
// the historical implementation uses when building a path component from
// a folder name.
func SafeName(name string) string {
	return HashIfNecessary(EncodeReservedName(name))
}
