package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultExtension     = ".mp3"
	DefaultFallbackName  = "audio.mp3"
	DefaultMaxNameLength = 200
)

var (
	orderingPrefix = regexp.MustCompile(`^\d+[\s.-]*`)
	illegalChars   = regexp.MustCompile(`[<>:"/\\|?*]`)
	space          = regexp.MustCompile(`\s+`)
)

// FilenameRules controls how URL paths become local filenames
type FilenameRules struct {
	Extension string // required suffix, including the dot
	Fallback  string // used when nothing usable is left
	MaxLength int    // in characters, extension included
}

// DefaultFilenameRules returns the rules used for mp3 downloads
func DefaultFilenameRules() FilenameRules {
	return FilenameRules{
		Extension: DefaultExtension,
		Fallback:  DefaultFallbackName,
		MaxLength: DefaultMaxNameLength,
	}
}

// SanitizeFilename applies the default rules to raw
func SanitizeFilename(raw string) string {
	return DefaultFilenameRules().Sanitize(raw)
}

// Sanitize turns a (possibly percent-encoded) URL path into a safe filename.
// The result is never empty, at most MaxLength characters long and always
// ends in Extension (compared case-insensitively).
func (r FilenameRules) Sanitize(raw string) string {
	r = r.withDefaults()

	name := unescapeLenient(raw)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	// Only one ordering prefix goes: in "01 - 1999.mp3" the year is the title.
	name = orderingPrefix.ReplaceAllString(name, "")
	name = illegalChars.ReplaceAllString(name, "")
	name = CleanText(name)
	name = strings.TrimSpace(truncateRunes(name, r.MaxLength))

	if name == "" || strings.EqualFold(name, r.Extension) {
		return r.Fallback
	}
	if !HasExtension(name, r.Extension) {
		limit := r.MaxLength - utf8.RuneCountInString(r.Extension)
		name = strings.TrimSpace(truncateRunes(name, limit))
		if name == "" {
			return r.Fallback
		}
		name += r.Extension
	}
	return name
}

func (r FilenameRules) withDefaults() FilenameRules {
	if r.Extension == "" {
		r.Extension = DefaultExtension
	}
	if !strings.HasPrefix(r.Extension, ".") {
		r.Extension = "." + r.Extension
	}
	if r.Fallback == "" {
		r.Fallback = "audio" + r.Extension
	}
	if r.MaxLength <= utf8.RuneCountInString(r.Extension) {
		r.MaxLength = DefaultMaxNameLength
	}
	return r
}

// HasExtension reports whether name ends in ext, ignoring case
func HasExtension(name, ext string) bool {
	return len(name) >= len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext)
}

// SplitExtension splits name into base and extension the way the collision
// resolver needs it: "a.b.mp3" -> ("a.b", ".mp3").
func SplitExtension(name string) (string, string) {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:]
}

// unescapeLenient decodes every valid %XX escape and leaves malformed ones
// as they are. Invalid UTF-8 in the result becomes U+FFFD.
func unescapeLenient(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return strings.ToValidUTF8(b.String(), "\uFFFD")
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// CleanText collapses whitespace runs to a single space and trims the result
func CleanText(text string) string {
	return strings.TrimSpace(space.ReplaceAllString(text, " "))
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
