package shell

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Shell describes a resolved shell binary and how to hand it a command string.
type Shell struct {
	Tag  string // zsh|bash|sh|powershell|cmd
	Path string
	// Args yields the argv tail that makes the shell run command.
	Args []string
}

// Argv returns the full argv for running command under this shell.
func (s Shell) Argv(command string) []string {
	out := make([]string, 0, len(s.Args)+2)
	out = append(out, s.Path)
	out = append(out, s.Args...)
	out = append(out, command)
	return out
}

// ErrNoShell is returned when none of the candidate shells is runnable.
var ErrNoShell = fmt.Errorf("no runnable shell found")

var (
	resolveMu    sync.Mutex
	resolveCache = map[string]*Shell{} // tag -> resolved (nil entry means probed and unavailable)
	resolveGroup singleflight.Group
)

func candidates() []candidate {
	if runtime.GOOS == "windows" {
		return []candidate{
			{tag: "powershell", names: []string{"pwsh", "powershell"}, args: []string{"-NoProfile", "-NonInteractive", "-Command"}},
			{tag: "cmd", names: []string{"cmd"}, args: []string{"/d", "/s", "/c"}},
		}
	}
	return []candidate{
		{tag: "zsh", names: []string{"zsh"}, args: []string{"-c"}},
		{tag: "bash", names: []string{"bash"}, args: []string{"-c"}},
		{tag: "sh", names: []string{"sh"}, args: []string{"-c"}},
	}
}

type candidate struct {
	tag   string
	names []string
	args  []string
}

// Resolve returns the preferred runnable shell, probing each candidate at most
// once per process. Concurrent callers share a single probe per tag.
func Resolve() (Shell, error) {
	for _, c := range candidates() {
		if sh := probe(c); sh != nil {
			return *sh, nil
		}
	}
	return Shell{}, ErrNoShell
}

// ResolveTag resolves one specific shell tag, or fails if it is unavailable.
func ResolveTag(tag string) (Shell, error) {
	for _, c := range candidates() {
		if c.tag != tag {
			continue
		}
		if sh := probe(c); sh != nil {
			return *sh, nil
		}
		return Shell{}, fmt.Errorf("shell %q not available", tag)
	}
	return Shell{}, fmt.Errorf("unknown shell tag %q", tag)
}

func probe(c candidate) *Shell {
	resolveMu.Lock()
	if cached, ok := resolveCache[c.tag]; ok {
		resolveMu.Unlock()
		return cached
	}
	resolveMu.Unlock()

	v, _, _ := resolveGroup.Do(c.tag, func() (interface{}, error) {
		var found *Shell
		for _, name := range c.names {
			path, err := exec.LookPath(name)
			if err != nil {
				continue
			}
			found = &Shell{Tag: c.tag, Path: path, Args: append([]string(nil), c.args...)}
			break
		}
		resolveMu.Lock()
		resolveCache[c.tag] = found
		resolveMu.Unlock()
		return found, nil
	})
	sh, _ := v.(*Shell)
	return sh
}

// resetResolverForTest clears the probe cache.
func resetResolverForTest() {
	resolveMu.Lock()
	resolveCache = map[string]*Shell{}
	resolveMu.Unlock()
}
