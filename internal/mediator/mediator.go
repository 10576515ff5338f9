// Package mediator inspects each completed line of terminal input before it
// reaches the shell. It classifies the invoked program against a closed set
// of known command kinds and decides whether to execute the line unchanged,
// block it with a diagnostic, or redirect the shell into a detected project
// directory first. Independently of that verdict it schedules disk-to-DB
// propagation for the filesystem-mutating built-ins (mkdir, touch, rm) and
// tracks cd for the session's working directory.
//
// Mediation fails open: any panic during analysis is recovered and the line
// executes unchanged. The terminal staying interactive matters more than a
// best-effort check, because isolation is per-session path prefixing anyway.
package mediator

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manavgt54/AI-IDE/internal/jail"
	"github.com/manavgt54/AI-IDE/internal/logutil"
	"github.com/manavgt54/AI-IDE/internal/workspace"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var rulesYAML []byte

// Verdict is the outcome of mediating one input line.
type Verdict int

const (
	// VerdictExecute forwards the line to the shell unchanged.
	VerdictExecute Verdict = iota
	// VerdictBlock suppresses the line; Notice carries the diagnostic.
	VerdictBlock
	// VerdictRedirect emits a cd into RedirectDir before the original line.
	VerdictRedirect
)

// Decision is the result of Inspect for one input line.
type Decision struct {
	Verdict     Verdict
	Notice      string // human-readable diagnostic or redirect notice
	RedirectDir string // directory name to cd into (VerdictRedirect only)
	NewCwd      string // updated absolute cwd, "" if unchanged
	// WatchTimeout arms the session's soft watchdog: if the PTY produces no
	// output for this long after the command starts, an interrupt is sent.
	// Zero leaves the watchdog unarmed.
	WatchTimeout time.Duration
}

// Watchdog windows per command class.
const (
	watchInstall     = 3 * time.Minute
	watchInterpreter = 60 * time.Second
)

// touchDelay gives the shell time to complete a touch before the sync queue
// reads the resulting file.
const touchDelay = 500 * time.Millisecond

// appRootPattern is the hard-coded dangerous input: changing into the
// backend's own application root. Checked before any classification.
const appRootPattern = "cd /app"

type ruleTable struct {
	SimpleCommands []string `yaml:"simple_commands"`
	NpmPassthrough []string `yaml:"npm_passthrough"`
}

// Mediator holds the parsed rule table and the sync queue used for
// fire-and-forget disk-to-DB propagation.
type Mediator struct {
	simple map[string]bool
	npmOK  map[string]bool
	queue  *workspace.SyncQueue
}

// New parses the embedded rule table and returns a mediator that enqueues
// propagation tasks on queue.
func New(queue *workspace.SyncQueue) (*Mediator, error) {
	var rt ruleTable
	if err := yaml.Unmarshal(rulesYAML, &rt); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	m := &Mediator{
		simple: make(map[string]bool, len(rt.SimpleCommands)),
		npmOK:  make(map[string]bool, len(rt.NpmPassthrough)),
		queue:  queue,
	}
	for _, c := range rt.SimpleCommands {
		m.simple[c] = true
	}
	for _, c := range rt.NpmPassthrough {
		m.npmOK[c] = true
	}
	return m, nil
}

// Inspect mediates one completed input line for the session rooted at root
// with current working directory cwd (absolute).
func (m *Mediator) Inspect(sessionID, root, cwd, line string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("mediator: recovered from analysis panic on %q: %v",
				logutil.SanitizeForLog(line), r)
			d = Decision{Verdict: VerdictExecute}
		}
	}()

	// Security rule: always first, independent of classification.
	if strings.Contains(line, appRootPattern) {
		return Decision{
			Verdict: VerdictBlock,
			Notice:  "access to the application root is not permitted",
		}
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Decision{Verdict: VerdictExecute}
	}

	tokens := strings.Fields(trimmed)
	name := strings.ToLower(tokens[0])
	args := tokens[1:]

	// Propagation hooks fire regardless of the analysis verdict below.
	d.NewCwd = m.runHooks(sessionID, root, cwd, name, args)

	if m.simple[name] {
		return d
	}

	verdict := m.analyze(root, cwd, name, args)
	verdict.NewCwd = firstNonEmpty(verdict.NewCwd, d.NewCwd)
	return verdict
}

// analyze dispatches to the per-kind analyzer. The command set is closed:
// every kind has exactly one case here, plus the generic fallback.
func (m *Mediator) analyze(root, cwd, name string, args []string) Decision {
	switch classify(name) {
	case cmdPackageManager:
		return m.analyzePackageManager(root, cwd, args)
	case cmdNode:
		return analyzeScriptFile(root, cwd, args, nil, watchInterpreter)
	case cmdNpx:
		return withWatchdog(analyzeGeneric(root, cwd, args), watchInstall)
	case cmdPython:
		return analyzeScriptFile(root, cwd, args, nil, watchInterpreter)
	case cmdPip:
		return analyzePip(root, cwd, args)
	case cmdGit:
		return Decision{Verdict: VerdictExecute}
	case cmdGo:
		return analyzeGo(root, cwd, args)
	case cmdCargo:
		return requireManifest(root, cwd, "Cargo.toml", watchInstall)
	case cmdJava:
		return analyzeScriptFile(root, cwd, args, []string{".java"}, watchInterpreter)
	case cmdGCC:
		return analyzeScriptFile(root, cwd, args, []string{".c", ".cpp", ".cc", ".cxx"}, watchInterpreter)
	default:
		return analyzeGeneric(root, cwd, args)
	}
}

// cmdKind is the closed set of analyzed command variants.
type cmdKind int

const (
	cmdUnknown cmdKind = iota
	cmdPackageManager
	cmdNode
	cmdNpx
	cmdPython
	cmdPip
	cmdGit
	cmdGo
	cmdCargo
	cmdJava
	cmdGCC
)

func classify(name string) cmdKind {
	switch name {
	case "npm", "pnpm", "yarn":
		return cmdPackageManager
	case "node":
		return cmdNode
	case "npx":
		return cmdNpx
	case "python", "python3", "py":
		return cmdPython
	case "pip", "pip3":
		return cmdPip
	case "git":
		return cmdGit
	case "go":
		return cmdGo
	case "cargo":
		return cmdCargo
	case "java", "javac":
		return cmdJava
	case "gcc", "g++":
		return cmdGCC
	default:
		return cmdUnknown
	}
}

// runHooks handles the built-ins that mutate the filesystem: cd updates the
// tracked working directory, mkdir/touch/rm enqueue disk-to-DB propagation.
// All of it is fire-and-forget relative to the interactive shell.
func (m *Mediator) runHooks(sessionID, root, cwd, name string, args []string) (newCwd string) {
	switch name {
	case "cd":
		target := root
		if len(args) > 0 {
			target = args[0]
		}
		if rel, ok := jail.Resolve(root, cwd, target); ok {
			return filepath.Join(root, filepath.FromSlash(rel))
		}

	case "mkdir":
		for _, arg := range nonFlagArgs(args) {
			if rel, ok := jail.Resolve(root, cwd, arg); ok {
				m.queue.Enqueue(workspace.OpMkdir, sessionID, rel, 0)
			}
		}

	case "touch":
		for _, arg := range nonFlagArgs(args) {
			if rel, ok := jail.Resolve(root, cwd, arg); ok {
				m.queue.Enqueue(workspace.OpUpsert, sessionID, rel, touchDelay)
			}
		}

	case "rm":
		recursive := false
		for _, arg := range args {
			switch arg {
			case "-r", "-rf", "-fr", "-R", "-Rf":
				recursive = true
			}
		}
		for _, arg := range nonFlagArgs(args) {
			rel, ok := jail.Resolve(root, cwd, arg)
			if !ok {
				continue
			}
			if recursive {
				m.queue.Enqueue(workspace.OpDeleteTree, sessionID, rel, 0)
			} else {
				m.queue.Enqueue(workspace.OpDelete, sessionID, rel, 0)
			}
		}
	}
	return ""
}

// nonFlagArgs returns the arguments that do not start with "-".
func nonFlagArgs(args []string) []string {
	var out []string
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			out = append(out, a)
		}
	}
	return out
}

// resolveOnDisk resolves arg through the jail and reports whether the
// resolved workspace path exists on disk.
func resolveOnDisk(root, cwd, arg string) (rel string, inJail, exists bool) {
	rel, inJail = jail.Resolve(root, cwd, arg)
	if !inJail {
		return "", false, false
	}
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return rel, true, err == nil
}

func withWatchdog(d Decision, timeout time.Duration) Decision {
	if d.Verdict == VerdictExecute || d.Verdict == VerdictRedirect {
		d.WatchTimeout = timeout
	}
	return d
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
