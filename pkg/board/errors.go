package board

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/target"
)

// Remediation is appended to resolution errors.
const Remediation = "use 'otb list --targets' to see all available targets"

// ResolutionError reports a target type that no registry entry or pack
// provides. It unwraps to target.ErrNotFound.
type ResolutionError struct {
	TargetType string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("board: target type %q not recognized; %s", e.TargetType, Remediation)
}

func (e *ResolutionError) Unwrap() error { return target.ErrNotFound }

// ConstructionError wraps a failure of the target constructor.
type ConstructionError struct {
	TargetType string
	Err        error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("board: construct %s target: %v", e.TargetType, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// InitError wraps a failure of the target's Init.
type InitError struct {
	TargetType string
	Err        error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("board: init %s target: %v", e.TargetType, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// DisconnectError describes a failed disconnect. Uninit logs it and does not
// return it.
type DisconnectError struct {
	TargetType string
	Resume     bool
	Err        error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("board: disconnect %s target (resume=%t): %v", e.TargetType, e.Resume, e.Err)
}

func (e *DisconnectError) Unwrap() error { return e.Err }

// HookError wraps an error returned by a delegate hook.
type HookError struct {
	Hook string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("board: delegate %s: %v", e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
