package util

import (
	"path/filepath"
	"regexp"
	"strings"
)

const (
	MaxFilenameLength = 120
	DefaultName       = "video"
)

var unsafeChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]+`)

// SafeFilename builds a cross-platform safe filename from name and ext (with or without the leading dot).
func SafeFilename(name, ext string) string {
	name = strings.TrimSpace(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if name == "" {
		name = DefaultName
	}
	if len(name) > MaxFilenameLength {
		// Trim to a rune boundary
		cut := MaxFilenameLength
		for cut > 0 && !isRuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return filepath.Clean(name)
	}
	return filepath.Clean(name + "." + ext)
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
