package common

import "errors"

// ErrModulePaused is returned when a module-wide pause switch is engaged.
var ErrModulePaused = errors.New("module paused")

// ErrActionPaused is returned when a single flow within an otherwise live
// module has been halted.
var ErrActionPaused = errors.New("action paused")

// PauseView exposes the governance pause switches to native modules.
type PauseView interface {
	IsPaused(module string) bool
}

// ActionPauseView extends PauseView with per-action switches so a module can
// halt individual flows (e.g. borrowing) while the rest keeps running.
type ActionPauseView interface {
	PauseView
	IsActionPaused(module, action string) bool
}

// Guard rejects the call when the module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// GuardAction rejects the call when either the module or the specific action
// is paused.
func GuardAction(p PauseView, module, action string) error {
	if err := Guard(p, module); err != nil {
		return err
	}
	ap, ok := p.(ActionPauseView)
	if !ok || action == "" {
		return nil
	}
	if ap.IsActionPaused(module, action) {
		return ErrActionPaused
	}
	return nil
}
