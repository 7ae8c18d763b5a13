package common

import "errors"

// ErrModulePaused is returned by Guard when an administrator has paused the
// module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause switch of a named module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when module is paused in p. A nil view or an
// unnamed module is never paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is an in-memory PauseView toggled by module administrators.
type PauseSet map[string]bool

// IsPaused implements PauseView.
func (p PauseSet) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	return p[module]
}

// Set flips the pause switch of module.
func (p PauseSet) Set(module string, paused bool) {
	if paused {
		p[module] = true
		return
	}
	delete(p, module)
}
