package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds all process configuration, read once from the environment
// at startup and treated as immutable afterwards.
type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/aiide.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/aiide.log"`

	// Workspace settings
	WorkspaceRoot string `envconfig:"WORKSPACE_ROOT" default:"/app/workspaces"`
	ShellPath     string `envconfig:"SHELL_PATH" default:"/bin/bash"`

	// Persistence limits: files larger than MaxFileSize or inside one of
	// ExcludeDirs (build artifacts, dependency trees) are never written
	// back to the database.
	MaxFileSize int64    `envconfig:"MAX_FILE_SIZE" default:"1048576"`
	ExcludeDirs []string `envconfig:"EXCLUDE_DIRS" default:"node_modules,.git,dist,build,__pycache__,.next"`

	// ReconcileInterval is how often the reconciliation pass re-materializes
	// every active session's workspace from the database.
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`

	// SessionIdleTimeout is how long a detached session's PTY stays alive
	// before cleanup. Zero disables automatic cleanup.
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"0"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("AIIDE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
