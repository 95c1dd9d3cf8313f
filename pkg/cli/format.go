// Package cli provides shared formatting helpers for the eline CLI.
package cli

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// colorEnabled is false when NO_COLOR is set (per no-color.org) or stdout
// is not a terminal.
var colorEnabled = os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))

// SetColor forces color output on or off.
func SetColor(on bool) {
	colorEnabled = on
}

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return code + s + "\033[0m"
}

// Green wraps s in ANSI green.
func Green(s string) string { return paint("\033[32m", s) }

// Yellow wraps s in ANSI yellow.
func Yellow(s string) string { return paint("\033[33m", s) }

// Red wraps s in ANSI red.
func Red(s string) string { return paint("\033[31m", s) }

// Dim wraps s in ANSI dim.
func Dim(s string) string { return paint("\033[2m", s) }

// CircuitState renders the operational state of a circuit.
func CircuitState(enabled, active, archived bool) string {
	switch {
	case archived:
		return Dim("archived")
	case !enabled:
		return Yellow("disabled")
	case active:
		return Green("active")
	default:
		return Red("down")
	}
}

// Rate renders a per-second rate with an SI prefix, e.g. 1.5M.
func Rate(v float64, unit string) string {
	prefixes := []string{"", "k", "M", "G", "T"}
	i := 0
	for v >= 1000 && i < len(prefixes)-1 {
		v /= 1000
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.2f %s/s", v, unit)
	}
	return fmt.Sprintf("%.2f %s%s/s", v, prefixes[i], unit)
}

// Dash returns "-" for an empty string.
func Dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
