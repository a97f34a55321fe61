package tui

import (
	"errors"
	"fmt"
)

// Mode selects how run progress is shown.
type Mode string

// Progress modes.
const (
	// ModeAuto uses ModeTUI on a terminal and ModeLog otherwise.
	ModeAuto Mode = "auto"
	// ModeTUI renders a live progress bar.
	ModeTUI Mode = "tui"
	// ModeLog writes one log line per completed batch.
	ModeLog Mode = "log"
	// ModeNone shows nothing until the final summary.
	ModeNone Mode = "none"
)

// ErrInvalidMode is returned by ParseMode for unknown values.
var ErrInvalidMode = errors.New("invalid progress mode")

// ParseMode converts a flag value into a Mode. Empty means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeTUI, ModeLog, ModeNone:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q (want auto, tui, log or none)", ErrInvalidMode, s)
	}
}

// Resolve turns ModeAuto into a concrete mode.
func (m Mode) Resolve(isTerminal bool) Mode {
	if m != ModeAuto {
		return m
	}
	if isTerminal {
		return ModeTUI
	}
	return ModeLog
}
