package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named settlement module has been halted by the
// operator. A nil view means nothing is paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the named module is halted. Engines call
// it before any mutating operation so an operator pause stops fund movement
// without touching stored escrows.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
