// Package wiring builds the full set of coordinators every aidamd,
// hook, and MCP server binary needs: sequential config, then database,
// then services. Factored out because this module ships many small
// binaries that all bootstrap the same way.
package wiring

import (
	"context"
	"fmt"
	"os"

	"github.com/aidam-sidecar/core/pkg/compaction"
	aidamconfig "github.com/aidam-sidecar/core/pkg/config"
	"github.com/aidam-sidecar/core/pkg/database"
	"github.com/aidam-sidecar/core/pkg/hooks"
	"github.com/aidam-sidecar/core/pkg/inbox"
	"github.com/aidam-sidecar/core/pkg/orchestrator"
	"github.com/aidam-sidecar/core/pkg/retrieval"
	"github.com/aidam-sidecar/core/pkg/sessionstate"
	"github.com/aidam-sidecar/core/pkg/store"
	"github.com/aidam-sidecar/core/pkg/supervisor"
	"github.com/aidam-sidecar/core/pkg/tools"
)

// App bundles every coordinator a binary might need. Binaries that only
// need a subset (e.g. a single hook) simply ignore the rest.
type App struct {
	Config     *aidamconfig.Config
	DB         *database.Client
	Store      *store.Store
	Bus        *inbox.Bus
	Orch       *orchestrator.Registry
	States     *sessionstate.Store
	Retrieval  *retrieval.Coordinator
	Compaction *compaction.Coordinator
	Tools      *tools.Registry
	Commands   *hooks.CommandRouter
	Adapter    *hooks.Adapter
	Sessions   *supervisor.Registry
}

// Bootstrap loads the plugin .env, opens (and migrates) the database, and
// constructs every coordinator. pluginRoot is the directory containing the
// plugin's .env and commands/.
func Bootstrap(ctx context.Context, pluginRoot string) (*App, error) {
	cfg, err := aidamconfig.Load(pluginRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load database config: %w", err)
	}

	client, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st := store.New(client)
	bus := inbox.New(client)
	orch := orchestrator.New(client)
	states := sessionstate.New(client)
	retr := retrieval.New(bus)
	comp := compaction.New(states, bus)

	home, _ := os.UserHomeDir()
	toolRegistry := tools.New(client, cfg.ToolRoot)
	commands := hooks.NewCommandRouter(cfg.CommandsDir, cfg.PluginRoot)
	adapter := hooks.NewAdapter(bus, orch, states, retr, comp, commands)
	adapter.LegacyMarkerDir = home
	adapter.MemoryRetrieverEnabled = cfg.MemoryRetrieverEnabled
	adapter.MemoryLearnerEnabled = cfg.MemoryLearnerEnabled

	return &App{
		Config: cfg, DB: client, Store: st, Bus: bus, Orch: orch,
		States: states, Retrieval: retr, Compaction: comp,
		Tools: toolRegistry, Commands: commands, Adapter: adapter,
		Sessions: supervisor.NewRegistry(),
	}, nil
}

// Close releases the database pool.
func (a *App) Close() error {
	return a.DB.Close()
}
