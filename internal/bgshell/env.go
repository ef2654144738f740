package bgshell

import "strings"

// Keys that must survive into a Windows PTY environment; without them PTY
// children cannot locate system binaries and spawn fails in confusing ways.
// Both canonical casings are checked because Windows env lookups are
// case-insensitive but the slice representation is not.
var windowsCriticalEnv = [][2]string{
	{"Path", "PATH"},
	{"SystemRoot", "SYSTEMROOT"},
	{"ComSpec", "COMSPEC"},
}

// rehydrateWindowsEnv re-adds critical system variables that caller overrides
// stripped. lookup resolves the parent process value (os.Getenv in
// production; injected in tests).
func rehydrateWindowsEnv(env []string, lookup func(string) string) []string {
	present := map[string]bool{}
	for _, kv := range env {
		if k, _, ok := strings.Cut(kv, "="); ok {
			present[strings.ToUpper(k)] = true
		}
	}
	out := append([]string(nil), env...)
	for _, pair := range windowsCriticalEnv {
		if present[strings.ToUpper(pair[0])] {
			continue
		}
		val := lookup(pair[0])
		if val == "" {
			val = lookup(pair[1])
		}
		if val != "" {
			out = append(out, pair[0]+"="+val)
		}
	}
	return out
}
