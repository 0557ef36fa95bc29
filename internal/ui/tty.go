package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// IsTTY checks if w is a terminal.
func IsTTY(w any) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// StylesFor picks colored styles for terminals and plain styles otherwise.
func StylesFor(w io.Writer) Styles {
	if IsTTY(w) && !DetectNoColor() {
		return DefaultStyles()
	}
	return NoColorStyles()
}
