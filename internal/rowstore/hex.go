package rowstore

import "fmt"

// EncodeHex32 renders v as an 8-digit hex-ASCII string, the row store's
// on-disk representation for 32-bit numeric cells. Hex-ASCII lets files
// written by big- and little-endian hosts interoperate.
func EncodeHex32(v uint32) string {
	return fmt.Sprintf("%08x", v)
}

// EncodeHex64 renders v as a 16-digit hex-ASCII string.
func EncodeHex64(v uint64) string {
	return fmt.Sprintf("%016x", v)
}

// DecodeHex32 parses an 8-digit hex-ASCII string back to uint32.
func DecodeHex32(s string) (uint32, error) {
	var v uint32
	_, err := fmt.Sscanf(s, "%08x", &v)
	if err != nil {
		return 0, fmt.Errorf("rowstore: malformed hex32 cell %q: %w", s, err)
	}
	return v, nil
}

// DecodeHex64 parses a 16-digit hex-ASCII string back to uint64.
func DecodeHex64(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%016x", &v)
	if err != nil {
		return 0, fmt.Errorf("rowstore: malformed hex64 cell %q: %w", s, err)
	}
	return v, nil
}
