package transform

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxFilenameLength caps sanitized names, counted in characters.
const MaxFilenameLength = 200

const illegalChars = `<>:"/\|?*`

// SanitizeFilename strips characters that are illegal in file names, trims
// leading and trailing dots and spaces and caps the length at
// MaxFilenameLength while keeping the extension when it fits.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(illegalChars, r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.Trim(name, ". ")

	if utf8.RuneCountInString(name) <= MaxFilenameLength {
		return name
	}

	stem, ext := SplitExt(name)
	extLen := utf8.RuneCountInString(ext)
	if ext == "" || extLen+1 >= MaxFilenameLength {
		return truncateRunes(name, MaxFilenameLength)
	}
	return truncateRunes(stem, MaxFilenameLength-extLen-1) + "." + ext
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
