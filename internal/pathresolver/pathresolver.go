// Package pathresolver computes each supported agent's artifact roots from
// environment variables, the user's home directory, and OS-specific
// data-directory conventions for editor extensions. It performs existence
// checks only; it never creates or mutates a path.
package pathresolver

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/fyrsmithlabs/sessiondex/internal/model"
)

// Roots is the set of locations a connector should walk or open for one
// agent. Dirs are walked recursively by file-based connectors; Files are
// opened directly (e.g. a configured global database path).
type Roots struct {
	Dirs  []string
	Files []string
}

// Empty reports whether no root location could be resolved at all.
func (r Roots) Empty() bool { return len(r.Dirs) == 0 && len(r.Files) == 0 }

// Resolver resolves artifact roots for every supported agent.
type Resolver struct {
	home string
}

// New creates a Resolver rooted at the current user's home directory. It
// never fails on its own; a resolver with an empty home degrades to
// returning empty Roots for every agent rather than erroring, since the
// absence of a tool's artifacts is a normal, common condition.
func New() *Resolver {
	home, _ := os.UserHomeDir()
	return &Resolver{home: home}
}

// NewWithHome creates a Resolver rooted at an explicit home directory,
// primarily for tests.
func NewWithHome(home string) *Resolver {
	return &Resolver{home: home}
}

// Resolve returns the Roots for the given agent slug. An unknown slug
// returns an empty Roots, not an error.
func (r *Resolver) Resolve(agentSlug string) Roots {
	switch agentSlug {
	case model.AgentCodex:
		return r.codex()
	case model.AgentClaudeCode:
		return r.claudeCode()
	case model.AgentGeminiCLI:
		return r.geminiCLI()
	case model.AgentCline:
		return r.cline()
	case model.AgentOpenCode:
		return r.openCode()
	case model.AgentAmp:
		return r.amp()
	default:
		return Roots{}
	}
}

// codexHome returns $CODEX_HOME or the default ~/.codex.
func (r *Resolver) codexHome() string {
	if v := os.Getenv("CODEX_HOME"); v != "" {
		return v
	}
	if r.home == "" {
		return ""
	}
	return filepath.Join(r.home, ".codex")
}

func (r *Resolver) codex() Roots {
	home := r.codexHome()
	if home == "" {
		return Roots{}
	}
	sessions := filepath.Join(home, "sessions")
	if !exists(sessions) {
		return Roots{}
	}
	return Roots{Dirs: []string{sessions}}
}

func (r *Resolver) claudeCode() Roots {
	if r.home == "" {
		return Roots{}
	}
	projects := filepath.Join(r.home, ".claude", "projects")
	if !exists(projects) {
		return Roots{}
	}
	return Roots{Dirs: []string{projects}}
}

func (r *Resolver) geminiCLI() Roots {
	if r.home == "" {
		return Roots{}
	}
	tmp := filepath.Join(r.home, ".gemini", "tmp")
	if !exists(tmp) {
		return Roots{}
	}
	return Roots{Dirs: []string{tmp}}
}

func (r *Resolver) cline() Roots {
	dir := r.vscodeGlobalStorage("saoudrizwan.claude-dev")
	if dir == "" || !exists(dir) {
		return Roots{}
	}
	return Roots{Dirs: []string{dir}}
}

func (r *Resolver) amp() Roots {
	var dirs []string
	if d := r.vscodeGlobalStorage("sourcegraph.amp"); d != "" && exists(d) {
		dirs = append(dirs, d)
	}
	if d := r.ampLocalShare(); d != "" && exists(d) {
		dirs = append(dirs, d)
	}
	return Roots{Dirs: dirs}
}

func (r *Resolver) ampLocalShare() string {
	if v := os.Getenv("AMP_DATA_HOME"); v != "" {
		return v
	}
	if r.home == "" {
		return ""
	}
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "amp")
		}
		return ""
	default:
		return filepath.Join(r.home, ".local", "share", "amp")
	}
}

// openCode returns both the project-local .opencode directory under the
// current working directory and the global data directory
// ($OPENCODE_DATA_HOME, or ~/.local/share/opencode when that is unset),
// keeping only those that exist.
func (r *Resolver) openCode() Roots {
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, filepath.Join(cwd, ".opencode"))
	}
	if v := os.Getenv("OPENCODE_DATA_HOME"); v != "" {
		dirs = append(dirs, v)
	} else if r.home != "" {
		dirs = append(dirs, filepath.Join(r.home, ".local", "share", "opencode"))
	}
	var kept []string
	for _, d := range dirs {
		if exists(d) {
			kept = append(kept, d)
		}
	}
	return Roots{Dirs: kept}
}

// vscodeGlobalStorage resolves the globalStorage directory for a given
// editor extension id, honoring OS-specific VS Code data directory
// conventions. publisher.extension should be lowercase, matching the
// extension's package.json "name"/"publisher" fields.
func (r *Resolver) vscodeGlobalStorage(extensionID string) string {
	if r.home == "" {
		return ""
	}
	var base string
	switch runtime.GOOS {
	case "darwin":
		base = filepath.Join(r.home, "Library", "Application Support", "Code", "User", "globalStorage")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			base = filepath.Join(appData, "Code", "User", "globalStorage")
		} else {
			base = filepath.Join(r.home, "AppData", "Roaming", "Code", "User", "globalStorage")
		}
	default: // linux and other unix-likes
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "Code", "User", "globalStorage")
		} else {
			base = filepath.Join(r.home, ".config", "Code", "User", "globalStorage")
		}
	}
	return filepath.Join(base, extensionID)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
