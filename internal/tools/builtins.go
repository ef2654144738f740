package tools

import (
	"go.uber.org/zap"

	"loaf/internal/bgshell"
	"loaf/internal/shell"
)

// Deps wires the built-in tool set to the process-wide runtime pieces.
type Deps struct {
	Exec      *shell.Executor
	Sessions  *bgshell.Manager
	Recorder  Recorder
	PatchRoot string
	Log       *zap.Logger
}

// RegisterBuiltins installs the full built-in tool set on r.
func RegisterBuiltins(r *Registry, deps Deps) error {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	defs := []Definition{
		newBashTool(deps.Exec, deps.Recorder),
		newPatchTool(deps.PatchRoot, deps.Recorder),
	}
	defs = append(defs, backgroundDefinitions(deps.Sessions, deps.Recorder)...)
	defs = append(defs, fileDefinitions(deps.Recorder)...)
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	deps.Log.Debug("builtin tools registered", zap.Int("count", len(defs)))
	return nil
}
