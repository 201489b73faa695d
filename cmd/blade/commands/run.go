package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bladecode/blade/internal/command"
	"github.com/bladecode/blade/internal/config"
	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/fileaccess"
	"github.com/bladecode/blade/internal/logging"
	"github.com/bladecode/blade/internal/mcp"
	"github.com/bladecode/blade/internal/permission"
	"github.com/bladecode/blade/internal/provider"
	"github.com/bladecode/blade/internal/session"
	"github.com/bladecode/blade/internal/storage"
	"github.com/bladecode/blade/internal/tool"
	"github.com/bladecode/blade/pkg/types"
)

var (
	runPrompt string
	runMode   string
)

func init() {
	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "run a single prompt and exit")
	runCmd.Flags().StringVar(&runMode, "mode", "", "permission mode: default|auto-edit|plan|yolo")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent against the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, err := os.Getwd()
		if err != nil {
			return err
		}
		return runAgent(cmd.Context(), workspace)
	},
}

func runAgent(ctx context.Context, workspace string) error {
	paths := config.DefaultPaths()
	if err := paths.Ensure(); err != nil {
		return err
	}

	cfg, err := config.Load(paths, workspace)
	if err != nil {
		return err
	}
	if runMode != "" {
		mode := types.PermissionMode(runMode)
		if !mode.Valid() {
			return fmt.Errorf("invalid mode %q", runMode)
		}
		cfg.PermissionMode = mode
	}

	logging.Init(logging.Config{
		Level:     logging.ParseLevel(cfg.Log.Level),
		Pretty:    cfg.Log.Pretty,
		LogToFile: cfg.Log.File,
	})

	// IDE hints are read-only; they only decorate the logs.
	if term := os.Getenv("TERM_PROGRAM"); term != "" {
		logging.Logger.Debug().Str("terminal", term).Msg("terminal detected")
	}
	if os.Getenv("VSCODE_IPC_HOOK") != "" {
		logging.Logger.Debug().Msg("running inside VS Code")
	}

	bus := event.NewBus()
	defer bus.Close()

	checker := permission.NewChecker(permission.ParseRuleSet(cfg.Permissions), cfg.PermissionMode, bus)

	// Permission rules stay hot-reloadable while the process runs.
	watcher, err := config.Watch(paths, workspace, func(next *types.Config) {
		checker.SetRules(permission.ParseRuleSet(next.Permissions))
	})
	if err == nil {
		defer watcher.Close()
	}

	tracker := fileaccess.NewTracker()
	registry := tool.DefaultRegistry(workspace, tool.Deps{Tracker: tracker})
	dispatcher := tool.NewDispatcher(registry, checker)

	providers, provErrs := provider.FromConfig(cfg)
	for _, e := range provErrs {
		logging.Logger.Warn().Err(e).Msg("provider setup")
	}
	if len(providers.IDs()) == 0 {
		return fmt.Errorf("no usable provider; set an API key in %s or the environment", paths.ConfigFile)
	}

	// External tool servers come up in the background; failures leave their
	// tools unavailable without blocking the agent.
	mcpCfg, err := config.LoadMCP(paths)
	if err != nil {
		return err
	}
	mcpClient := mcp.NewClient(bus)
	defer mcpClient.Close()
	mcp.NewAdapter(mcpClient, registry, bus)
	for id, serverCfg := range mcpCfg.Servers {
		go mcpClient.AddServer(ctx, id, serverCfg)
	}

	store := storage.New(paths.Root)
	processor := session.NewProcessor(session.ProcessorOptions{
		Storage:      store,
		Providers:    providers,
		Dispatcher:   dispatcher,
		Checker:      checker,
		Tracker:      tracker,
		Bus:          bus,
		Config:       cfg,
		SnapshotBase: paths.FileHistory,
		Workspace:    workspace,
	})

	sess, err := processor.CreateSession(ctx)
	if err != nil {
		return err
	}
	defer processor.WriteRecording(ctx, sess, paths.Recordings)

	sink := event.NewSink(0)
	commands := command.NewExecutor(workspace, cfg)
	coordinator := session.NewCoordinator(session.CoordinatorOptions{
		Processor: processor,
		Session:   sess,
		Commands:  commands,
		Checker:   checker,
		Confirm:   terminalConfirm{},
		Sink:      sink,
	})

	// The sink consumer is the stand-in UI: print deltas as they arrive.
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go consumeEvents(consumerCtx, sink)

	if runPrompt != "" {
		coordinator.Submit(ctx, runPrompt)
		waitForIdle(coordinator)
		return nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			break
		}
		if line != "" {
			coordinator.Submit(ctx, line)
			waitForIdle(coordinator)
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

func waitForIdle(c *session.Coordinator) {
	for c.State() == session.StateRunning {
		time.Sleep(10 * time.Millisecond)
	}
}

// consumeEvents renders the stream surface to stdout.
func consumeEvents(ctx context.Context, sink *event.Sink) {
	for {
		e, ok := sink.Next(ctx)
		if !ok {
			return
		}
		switch ev := e.(type) {
		case event.ContentDelta:
			fmt.Print(ev.Text)
		case event.ThinkingDelta:
			// Thinking stays quiet in headless mode.
		case event.ToolCallStart:
			fmt.Printf("\n[tool] %s %s\n", ev.Name, ev.Args)
		case event.ToolCallResult:
			status := "ok"
			if !ev.Success {
				status = "failed"
			}
			fmt.Printf("[tool] %s: %s\n", status, ev.Summary)
		case event.Compacting:
			if ev.Active {
				fmt.Println("\n[compacting context...]")
			}
		case event.StreamEnd:
			fmt.Println()
		}
	}
}

// terminalConfirm asks on the controlling terminal.
type terminalConfirm struct{}

func (terminalConfirm) Confirm(ctx context.Context, req permission.Request) (permission.Response, error) {
	fmt.Printf("\n%s\n", req.Title)
	for _, sig := range req.Signatures {
		fmt.Printf("  %s\n", sig)
	}
	fmt.Print("Allow? [y]es / [a]lways / [N]o: ")

	answerCh := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		answerCh <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		return permission.Response{}, ctx.Err()
	case answer := <-answerCh:
		switch answer {
		case "y", "yes":
			return permission.Response{Approved: true}, nil
		case "a", "always":
			return permission.Response{Approved: true, Persist: true}, nil
		default:
			return permission.Response{Approved: false, Reason: "rejected at terminal"}, nil
		}
	}
}
