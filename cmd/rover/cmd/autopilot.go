package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/endorhq/rover/internal/adapters/cli"
	"github.com/endorhq/rover/internal/adapters/git"
	"github.com/endorhq/rover/internal/adapters/github"
	"github.com/endorhq/rover/internal/adapters/sandbox"
	"github.com/endorhq/rover/internal/adapters/tasks"
	"github.com/endorhq/rover/internal/autopilot"
	"github.com/endorhq/rover/internal/autopilot/store"
	"github.com/endorhq/rover/internal/config"
	"github.com/endorhq/rover/internal/diagnostics"
	"github.com/endorhq/rover/internal/web"
)

var autopilotInit bool

var autopilotCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Run the autopilot daemon",
	Long: `Run the autopilot: poll repository events, coordinate and plan work,
execute it in sandboxed tasks, commit, resolve and push the results.`,
	RunE: runAutopilot,
}

func init() {
	autopilotCmd.Flags().BoolVar(&autopilotInit, "init", false, "write a commented rover.yaml and exit")
	rootCmd.AddCommand(autopilotCmd)
}

func runAutopilot(cmd *cobra.Command, _ []string) error {
	if autopilotInit {
		return writeDefaultConfig()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st := store.New(projectDataDir(cfg))
	traces, err := store.NewTraceStore(st, cfg.State.Backend)
	if err != nil {
		return fmt.Errorf("opening trace store: %w", err)
	}

	registry, err := cli.NewRegistry(cfg.Agents, cfg.Autopilot.AgentTimeout, logger)
	if err != nil {
		return err
	}

	gitClient, err := git.NewClient(cfg.Project.Path, logger)
	if err != nil {
		return err
	}

	var hosting *github.Client
	if cfg.GitHub.Owner != "" && cfg.GitHub.Repo != "" {
		hosting, err = github.NewClient(cfg.GitHub.Owner, cfg.GitHub.Repo)
	} else {
		hosting, err = github.NewClientFromRepo()
	}
	if err != nil {
		return err
	}

	taskManager := tasks.NewManager(st.BaseDir(), logger)
	watcher, err := tasks.NewWatcher(taskManager.TasksDir(), logger)
	if err != nil {
		return fmt.Errorf("starting task watcher: %w", err)
	}
	defer watcher.Close()

	pilot := autopilot.New(cfg, autopilot.Deps{
		Store:       st,
		Traces:      traces,
		Agent:       registry.Default(),
		FastAgent:   registry.Fast(),
		FastModel:   registry.FastModel(),
		Git:         gitClient,
		Hosting:     hosting,
		Events:      hosting,
		Tasks:       taskManager,
		Sandbox:     sandbox.NewDockerFactory(logger),
		MonitorWake: watcher.Wake(),
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pilot.Start(ctx); err != nil {
		return err
	}

	var server *web.Server
	if cfg.Server.Enabled {
		server = web.New(cfg.Server.Addr, pilot, diagnostics.NewCollector(cfg.DataDir), logger)
		server.Start()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	pilot.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
	}
	return nil
}

// projectDataDir is where this project's durable autopilot state
// lives: <data_dir>/projects/<project-id>/.
func projectDataDir(cfg *config.Config) string {
	id := cfg.Project.ID
	if id == "" {
		abs, err := filepath.Abs(cfg.Project.Path)
		if err != nil {
			abs = cfg.Project.Path
		}
		id = filepath.Base(abs)
	}
	return filepath.Join(cfg.DataDir, "projects", id)
}

func writeDefaultConfig() error {
	const path = "rover.yaml"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(config.DefaultConfigYAML), 0o644); err != nil {
		return err
	}
	fmt.Println("wrote", path)
	return nil
}
