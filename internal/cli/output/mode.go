// Package output renders command results for terminals, markdown consumers and scripts.
package output

// Mode selects how results are rendered.
type Mode string

// Output modes.
const (
	ModeAuto     Mode = "auto"
	ModeText     Mode = "text"
	ModeMarkdown Mode = "markdown"
	ModeJSON     Mode = "json"
)

// Resolve turns ModeAuto into a concrete mode: text on a TTY, markdown otherwise.
func (m Mode) Resolve(isTTY bool) Mode {
	switch m {
	case ModeText, ModeMarkdown, ModeJSON:
		return m
	}
	if isTTY {
		return ModeText
	}
	return ModeMarkdown
}
