package ui

import "fmt"

// ANSI SGR codes for the status renderer's accent palette.
const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiLime   = "\x1b[38;5;154m"
	ansiYellow = "\x1b[38;5;220m"
	ansiRed    = "\x1b[38;5;196m"
	ansiGray   = "\x1b[38;5;245m"
)

// style renders text with a fixed SGR prefix, or returns it unchanged when
// no codes are set (no-color mode).
type style struct {
	codes string
}

// Render wraps s in the style's ANSI codes, or returns it unchanged if the
// style carries no codes.
func (s style) Render(text string) string {
	if s.codes == "" {
		return text
	}
	return fmt.Sprintf("%s%s%s", s.codes, text, ansiReset)
}

// Styles holds the named styles used by the status renderer.
type Styles struct {
	Header  style
	Success style
	Warning style
	Error   style
	Dim     style
	Stage   style
	Active  style
}

// DefaultStyles returns the lime-green accented palette.
func DefaultStyles() Styles {
	return Styles{
		Header:  style{ansiBold + ansiLime},
		Success: style{ansiLime},
		Warning: style{ansiYellow},
		Error:   style{ansiRed},
		Dim:     style{ansiGray},
		Stage:   style{ansiLime},
		Active:  style{ansiBold + ansiLime},
	}
}

// NoColorStyles returns styles that render text unchanged.
func NoColorStyles() Styles {
	return Styles{}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
