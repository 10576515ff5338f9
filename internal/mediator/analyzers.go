package mediator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manavgt54/AI-IDE/internal/jail"
)

// analyzePackageManager implements the npm/pnpm/yarn rules: subcommands that
// do not need a manifest pass straight through; everything else requires a
// package.json in the resolved current directory, else block-or-redirect.
func (m *Mediator) analyzePackageManager(root, cwd string, args []string) Decision {
	if len(args) == 0 {
		return Decision{Verdict: VerdictExecute}
	}
	sub := strings.ToLower(args[0])
	if m.npmOK[sub] {
		return withWatchdog(Decision{Verdict: VerdictExecute}, watchInstall)
	}
	return requireManifest(root, cwd, "package.json", watchInstall)
}

// analyzePip blocks when -r/--requirement names a requirements file that does
// not exist in the workspace.
func analyzePip(root, cwd string, args []string) Decision {
	for i, arg := range args {
		if arg != "-r" && arg != "--requirement" {
			continue
		}
		if i+1 >= len(args) {
			break
		}
		reqFile := args[i+1]
		_, inJail, exists := resolveOnDisk(root, cwd, reqFile)
		if !inJail {
			return accessDenied(reqFile)
		}
		if !exists {
			return Decision{
				Verdict: VerdictBlock,
				Notice:  fmt.Sprintf("requirements file %q not found in workspace", reqFile),
			}
		}
	}
	return withWatchdog(Decision{Verdict: VerdictExecute}, watchInstall)
}

// analyzeGo checks the named source file for "go run"; all other go
// subcommands pass through.
func analyzeGo(root, cwd string, args []string) Decision {
	if len(args) < 2 || args[0] != "run" {
		return withWatchdog(Decision{Verdict: VerdictExecute}, watchInterpreter)
	}
	return analyzeScriptFile(root, cwd, args[1:], []string{".go"}, watchInterpreter)
}

// codeFlags are interpreter flags whose next argument is inline code or a
// module name rather than a script file path.
var codeFlags = map[string]bool{
	"-e": true, "--eval": true,
	"-p": true, "--print": true,
	"-c": true, "-m": true,
}

// analyzeScriptFile finds the first non-flag argument (optionally restricted
// to the given extensions) and blocks when it resolves to a workspace path
// that does not exist. Flag-only invocations (--version, --eval, ...) pass,
// and the value of a code-carrying flag is never treated as a file.
func analyzeScriptFile(root, cwd string, args []string, exts []string, timeout time.Duration) Decision {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			if codeFlags[arg] {
				i++
			}
			continue
		}
		if len(exts) > 0 && !hasAnyExt(arg, exts) {
			continue
		}
		_, inJail, exists := resolveOnDisk(root, cwd, arg)
		if !inJail {
			return accessDenied(arg)
		}
		if !exists {
			return Decision{
				Verdict: VerdictBlock,
				Notice:  fmt.Sprintf("file not found: %q does not exist in this workspace", arg),
			}
		}
		return withWatchdog(Decision{Verdict: VerdictExecute}, timeout)
	}
	return withWatchdog(Decision{Verdict: VerdictExecute}, timeout)
}

// analyzeGeneric is the fallback for unrecognized executables: any argument
// that looks like a path (contains a separator, not a flag) must resolve
// inside the workspace, else the command is blocked.
func analyzeGeneric(root, cwd string, args []string) Decision {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") || !strings.ContainsAny(arg, "/\\") {
			continue
		}
		if _, ok := jail.Resolve(root, cwd, arg); !ok {
			return accessDenied(arg)
		}
	}
	return Decision{Verdict: VerdictExecute}
}

// requireManifest checks for the manifest in the resolved current directory.
// When it is absent but present inside a single detected top-level project
// subdirectory, the verdict is a redirect into that directory; otherwise the
// command is blocked with a diagnostic naming the manifest.
func requireManifest(root, cwd, manifest string, timeout time.Duration) Decision {
	if cwd == "" {
		cwd = root
	}
	if _, err := os.Stat(filepath.Join(cwd, manifest)); err == nil {
		return withWatchdog(Decision{Verdict: VerdictExecute}, timeout)
	}

	if dir := findProjectDir(root, manifest); dir != "" {
		return withWatchdog(Decision{
			Verdict:     VerdictRedirect,
			RedirectDir: dir,
			NewCwd:      filepath.Join(root, dir),
			Notice:      fmt.Sprintf("%s found in %s/, changing directory", manifest, dir),
		}, timeout)
	}

	return Decision{
		Verdict: VerdictBlock,
		Notice:  fmt.Sprintf("no %s found in the current directory; create one or cd into your project first", manifest),
	}
}

// findProjectDir returns the name of the single top-level workspace directory
// that contains the manifest, or "" when the workspace shape is ambiguous.
func findProjectDir(root, manifest string) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) != 1 {
		return ""
	}
	if _, err := os.Stat(filepath.Join(root, dirs[0], manifest)); err != nil {
		return ""
	}
	return dirs[0]
}

func accessDenied(arg string) Decision {
	return Decision{
		Verdict: VerdictBlock,
		Notice:  fmt.Sprintf("access denied: %q resolves outside this session's workspace", arg),
	}
}

func hasAnyExt(arg string, exts []string) bool {
	lower := strings.ToLower(arg)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
