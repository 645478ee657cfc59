package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// TrimExt strips the extension from a file name. A leading dot (".profile")
// or a dot inside a directory component is not an extension.
func TrimExt(name string) string {
	if name == "" {
		return name
	}

	lastDot := strings.LastIndex(name, ".")
	lastSep := strings.LastIndexAny(name, `/\`)
	if lastDot > lastSep && lastDot > lastSep+1 {
		return name[:lastDot]
	}
	return name
}

// ReplaceExt swaps the extension of name for ext (given without the dot),
// appending it when name has none.
func ReplaceExt(name, ext string) string {
	if name == "" {
		return name
	}
	return TrimExt(name) + "." + ext
}

// BaseName returns the last element of a client supplied file name,
// accepting both slash styles.
func BaseName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return filepath.Base(filepath.FromSlash(name))
}

func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
