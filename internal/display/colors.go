package display

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color names a role rather than a hue so themes can remap it
type Color int

const (
	ColorPlain Color = iota
	ColorPrimary
	ColorSuccess
	ColorWarning
	ColorError
	ColorMuted
)

// Theme maps roles to terminal attributes
type Theme map[Color]*color.Color

// DarkTheme is tuned for dark terminals
func DarkTheme() Theme {
	return Theme{
		ColorPrimary: color.New(color.FgHiBlue, color.Bold),
		ColorSuccess: color.New(color.FgHiGreen),
		ColorWarning: color.New(color.FgHiYellow),
		ColorError:   color.New(color.FgHiRed, color.Bold),
		ColorMuted:   color.New(color.FgWhite),
	}
}

// LightTheme is tuned for light terminals
func LightTheme() Theme {
	return Theme{
		ColorPrimary: color.New(color.FgBlue, color.Bold),
		ColorSuccess: color.New(color.FgGreen),
		ColorWarning: color.New(color.FgYellow),
		ColorError:   color.New(color.FgRed, color.Bold),
		ColorMuted:   color.New(color.FgMagenta),
	}
}

// ThemeByName returns a theme by name, defaulting to dark
func ThemeByName(name string) Theme {
	if name == "light" {
		return LightTheme()
	}
	return DarkTheme()
}

// Colors applies a theme when the destination supports it
type Colors struct {
	enabled bool
	theme   Theme
}

// NewColors detects color support for w. Only terminals get color, and
// NO_COLOR, TERM=dumb or an ASCII-only termenv profile turn it off.
func NewColors(w io.Writer, theme Theme) *Colors {
	return &Colors{enabled: detectColorSupport(w), theme: theme}
}

// NoColors returns a palette that never emits escape codes
func NoColors() *Colors {
	return &Colors{}
}

func detectColorSupport(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return termenv.NewOutput(f).EnvColorProfile() != termenv.Ascii
}

// Enabled reports whether escape codes are emitted
func (c *Colors) Enabled() bool {
	return c.enabled
}

// Sprint colors text for the given role
func (c *Colors) Sprint(role Color, text string) string {
	if !c.enabled {
		return text
	}
	attr, ok := c.theme[role]
	if !ok {
		return text
	}
	// fatih/color consults its global NoColor flag, which is false on a TTY
	attr.EnableColor()
	return attr.Sprint(text)
}
