package shell

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// The stateful wrapper brackets pwd/env output with unique marker lines so cwd
// and environment changes made inside a command survive into the next call.
// The marker format is load-bearing: the parser matches these literal strings.
//
//	__LOAF_BASH_<ms>_<hex>__CWD_START
//	__LOAF_BASH_<ms>_<hex>__CWD_END
//	__LOAF_BASH_<ms>_<hex>__ENV_START
//	__LOAF_BASH_<ms>_<hex>__ENV_END

func newMarkerPrefix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Degraded but still unique enough: timestamp only.
		return fmt.Sprintf("__LOAF_BASH_%d_0__", time.Now().UnixMilli())
	}
	return fmt.Sprintf("__LOAF_BASH_%d_%s__", time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}

// WrapCommand builds the shell script that runs command, then emits the
// bracketed cwd/env snapshot, then exits with the command's status.
func WrapCommand(sh Shell, command, marker string) string {
	switch sh.Tag {
	case "powershell":
		lines := []string{
			"$ErrorActionPreference = 'Continue'",
			command,
			"$__loafExit = $LASTEXITCODE",
			"if ($null -eq $__loafExit) { $__loafExit = 0 }",
			fmt.Sprintf("Write-Output '%sCWD_START'", marker),
			"(Get-Location).Path",
			fmt.Sprintf("Write-Output '%sCWD_END'", marker),
			fmt.Sprintf("Write-Output '%sENV_START'", marker),
			`Get-ChildItem Env: | ForEach-Object { "$($_.Name)=$($_.Value)" }`,
			fmt.Sprintf("Write-Output '%sENV_END'", marker),
			"exit $__loafExit",
		}
		return strings.Join(lines, "\n")
	case "cmd":
		parts := []string{
			command,
			"@set __LOAF_EXIT=%errorlevel%",
			"@echo " + marker + "CWD_START",
			"@cd",
			"@echo " + marker + "CWD_END",
			"@echo " + marker + "ENV_START",
			"@set",
			"@echo " + marker + "ENV_END",
			"@exit /b %__LOAF_EXIT%",
		}
		return strings.Join(parts, " & ")
	default: // zsh|bash|sh
		lines := []string{
			"set +e",
			command,
			"__LOAF_EXIT=$?",
			fmt.Sprintf("printf '%%s\\n' '%sCWD_START'", marker),
			"pwd",
			fmt.Sprintf("printf '%%s\\n' '%sCWD_END'", marker),
			fmt.Sprintf("printf '%%s\\n' '%sENV_START'", marker),
			"env",
			fmt.Sprintf("printf '%%s\\n' '%sENV_END'", marker),
			"exit $__LOAF_EXIT",
		}
		return strings.Join(lines, "\n")
	}
}

// Capture is the cwd/env snapshot parsed out of a wrapped command's stdout.
type Capture struct {
	Cwd      string
	Env      map[string]string
	Captured bool
}

// ParseCapture extracts the marker block from stdout and returns the cleaned
// stdout (marker block removed) plus the captured snapshot. Missing or
// malformed markers yield Captured=false and the stdout untouched.
func ParseCapture(stdout, marker string) (string, Capture) {
	lines := strings.Split(stdout, "\n")
	idx := func(suffix string) int {
		want := marker + suffix
		for i, ln := range lines {
			if strings.TrimRight(ln, "\r") == want {
				return i
			}
		}
		return -1
	}

	cwdStart := idx("CWD_START")
	cwdEnd := idx("CWD_END")
	envStart := idx("ENV_START")
	envEnd := idx("ENV_END")
	if cwdStart < 0 || cwdEnd < cwdStart+1 || envStart < cwdEnd || envEnd < envStart {
		return stdout, Capture{}
	}

	cap := Capture{Env: map[string]string{}, Captured: true}
	cap.Cwd = strings.TrimRight(strings.TrimSpace(strings.Join(lines[cwdStart+1:cwdEnd], "\n")), "\r")
	for _, ln := range lines[envStart+1 : envEnd] {
		ln = strings.TrimRight(ln, "\r")
		if ln == "" {
			continue
		}
		k, v, ok := strings.Cut(ln, "=")
		if !ok || k == "" {
			continue
		}
		if strings.HasPrefix(k, "__LOAF") {
			continue
		}
		cap.Env[k] = v
	}

	cleaned := strings.Join(lines[:cwdStart], "\n")
	if envEnd+1 < len(lines) {
		rest := strings.Join(lines[envEnd+1:], "\n")
		if cleaned != "" && rest != "" {
			cleaned += "\n"
		}
		cleaned += rest
	}
	return cleaned, cap
}

// Baseline is the cwd/env carried between foreground invocations.
type Baseline struct {
	Cwd string
	Env map[string]string
}

func (b Baseline) clone() Baseline {
	env := make(map[string]string, len(b.Env))
	for k, v := range b.Env {
		env[k] = v
	}
	return Baseline{Cwd: b.Cwd, Env: env}
}

// Environ renders the baseline env as KEY=value pairs in sorted key order.
func (b Baseline) Environ() []string {
	keys := make([]string, 0, len(b.Env))
	for k := range b.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+b.Env[k])
	}
	return out
}

// DefaultBaseline snapshots the process cwd and environment.
func DefaultBaseline() Baseline {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = os.TempDir()
	}
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return Baseline{Cwd: cwd, Env: env}
}
