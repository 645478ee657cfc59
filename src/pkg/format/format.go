// Package format classifies image payloads by their leading magic bytes.
package format

import (
	"encoding/hex"
	"strings"
)

// Tag is the canonical lowercase name of an image encoding.
type Tag string

const (
	JPG     Tag = "jpg"
	PNG     Tag = "png"
	GIF     Tag = "gif"
	BMP     Tag = "bmp"
	TIF     Tag = "tif"
	WEBP    Tag = "webp"
	ICO     Tag = "ico"
	HEIC    Tag = "heic"
	AVIF    Tag = "avif"
	HEIF    Tag = "heif"
	SVG     Tag = "svg"
	PSD     Tag = "psd"
	JP2     Tag = "jp2"
	Unknown Tag = "unknown"
)

// sniffLen is the number of leading bytes rendered for prefix matching.
const sniffLen = 16

type rule struct {
	prefix string
	// classify returns the tag for a header that starts with prefix, or
	// false when the disambiguator rejects it and later rules should run.
	classify func(header []byte) (Tag, bool)
}

func fixed(tag Tag) func([]byte) (Tag, bool) {
	return func([]byte) (Tag, bool) { return tag, true }
}

func brand(header []byte) string {
	if len(header) < 12 {
		return ""
	}
	return string(header[8:12])
}

// rules is evaluated top to bottom; several formats share leading bytes so
// the order is significant.
var rules = []rule{
	{"FFD8FF", fixed(JPG)},
	{"89504E47", fixed(PNG)},
	{"474946383761", fixed(GIF)},
	{"474946383961", fixed(GIF)},
	{"424D", fixed(BMP)},
	{"49492A00", fixed(TIF)},
	{"4D4D002A", fixed(TIF)},
	{"52494646", func(header []byte) (Tag, bool) {
		if brand(header) == "WEBP" {
			return WEBP, true
		}
		return "", false
	}},
	{"00000100", fixed(ICO)},
	{"66747970", func(header []byte) (Tag, bool) {
		switch brand(header) {
		case "heic":
			return HEIC, true
		case "avif":
			return AVIF, true
		default:
			return HEIF, true
		}
	}},
	{"3C73766720", fixed(SVG)},
	{"38425053", fixed(PSD)},
	{"0000000C6A5020200D0A", fixed(JP2)},
}

// Detect returns the format of data judged only by its content. It never
// fails; unrecognised input yields Unknown.
func Detect(data []byte) Tag {
	header := data
	if len(header) > sniffLen {
		header = header[:sniffLen]
	}
	signature := strings.ToUpper(hex.EncodeToString(header))

	for _, r := range rules {
		if !strings.HasPrefix(signature, r.prefix) {
			continue
		}
		if tag, ok := r.classify(header); ok {
			return tag
		}
	}
	return Unknown
}

// Normalize maps user supplied format names such as ".JPEG" or "tiff" to
// their canonical tag.
func Normalize(name string) Tag {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "."))
	switch name {
	case "jpeg":
		return JPG
	case "tiff":
		return TIF
	}
	return Tag(name)
}

// Equal reports whether a and b name the same encoding.
func Equal(a, b Tag) bool {
	return Normalize(string(a)) == Normalize(string(b))
}

// Ext returns the file extension for the tag, including the leading dot.
func (t Tag) Ext() string {
	return "." + string(t)
}

// MediaType returns the HTTP content type served for the tag.
func (t Tag) MediaType() string {
	switch Normalize(string(t)) {
	case PNG:
		return "image/png"
	case JPG:
		return "image/jpeg"
	case GIF:
		return "image/gif"
	case BMP:
		return "image/bmp"
	case TIF:
		return "image/tiff"
	case WEBP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// String returns the tag as written in records and file extensions.
func (t Tag) String() string {
	return string(t)
}
