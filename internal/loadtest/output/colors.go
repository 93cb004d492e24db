package output

import (
	"os"

	"github.com/fatih/color"
)

// palette holds the colors used by the console output.
type palette struct {
	title  *color.Color
	accent *color.Color
	good   *color.Color
	warn   *color.Color
	bad    *color.Color
	dim    *color.Color
	stage  *color.Color
	value  *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		title:  color.New(color.Bold),
		accent: color.New(color.FgCyan),
		good:   color.New(color.FgGreen),
		warn:   color.New(color.FgYellow),
		bad:    color.New(color.FgRed),
		dim:    color.New(color.Faint),
		stage:  color.New(color.FgMagenta),
		value:  color.New(color.FgBlue),
	}
	for _, c := range p.all() {
		// color.NoColor is decided from os.Stdout; the console may write elsewhere
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *palette) all() []*color.Color {
	return []*color.Color{p.title, p.accent, p.good, p.warn, p.bad, p.dim, p.stage, p.value}
}

// mark returns the pass or fail symbol.
func (p *palette) mark(ok bool) string {
	if ok {
		return p.good.Sprint("✓")
	}
	return p.bad.Sprint("✗")
}

// byRate picks green, yellow or red for a failure fraction.
func (p *palette) byRate(failRate float64) *color.Color {
	switch {
	case failRate > 0.05:
		return p.bad
	case failRate > 0.01:
		return p.warn
	default:
		return p.good
	}
}

// supportsColors checks the environment for color support.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}
