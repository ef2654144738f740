package tools

import (
	"errors"
	"strings"

	"loaf/internal/compact"
	"loaf/internal/patch"
)

// patchTool applies the *** Begin Patch dialect to the filesystem.
type patchTool struct {
	root     string
	recorder Recorder
}

func newPatchTool(root string, recorder Recorder) Definition {
	t := &patchTool{root: root, recorder: recorder}
	return Definition{
		Name:        "apply_patch",
		Description: "Apply a patch in the *** Begin Patch / *** End Patch format: add, update, delete, and move files.",
		InputSchema: objectSchema(map[string]interface{}{
			"patch": prop("string", "The full patch text, including the Begin/End envelope"),
			"cwd":   prop("string", "Directory relative paths resolve against"),
		}, "patch"),
		Run: t.run,
	}
}

func (t *patchTool) run(rc RunContext, input map[string]interface{}) Result {
	text, ok := stringArg(input, "patch")
	if !ok || strings.TrimSpace(text) == "" {
		return Fail(StatusInvalidInput, "patch is required")
	}
	root := t.root
	if cwd, ok := stringArg(input, "cwd"); ok && cwd != "" {
		root = cwd
	}

	summary, err := patch.Apply(root, text)
	if err != nil {
		record(t.recorder, compact.EventErrorObserved, map[string]interface{}{"message": err.Error()})
		var pe *patch.ParseError
		if errors.As(err, &pe) {
			return Fail(StatusPatchParseError, "%v", err)
		}
		var me *patch.MatchError
		if errors.As(err, &me) {
			res := Fail(StatusPatchMatchError, "%v", err)
			out := res.Output.(map[string]interface{})
			out["path"] = me.Path
			if me.Context != "" {
				out["context"] = me.Context
			}
			if len(me.OldLines) > 0 {
				out["old_lines"] = me.OldLines
			}
			// Earlier hunks may already be written; report what landed.
			out["applied"] = summary
			return res
		}
		return Fail(StatusStorageError, "%v", err)
	}

	for _, line := range summary {
		if path, found := strings.CutPrefix(line, "A "); found {
			record(t.recorder, compact.EventFileWritePatch, map[string]interface{}{"path": path, "op": "add"})
		} else if path, found := strings.CutPrefix(line, "M "); found {
			record(t.recorder, compact.EventFileWritePatch, map[string]interface{}{"path": path, "op": "update"})
		} else if path, found := strings.CutPrefix(line, "D "); found {
			record(t.recorder, compact.EventFileWritePatch, map[string]interface{}{"path": path, "op": "delete"})
		}
	}
	return Ok(map[string]interface{}{"summary": summary})
}
