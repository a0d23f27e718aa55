// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/riftlab/automaton/api/schemas"
	"github.com/riftlab/automaton/internal/driver"
	"github.com/riftlab/automaton/internal/execution"
	"github.com/riftlab/automaton/internal/judgment"
	"github.com/riftlab/automaton/internal/observability"
	"github.com/riftlab/automaton/internal/perception"
	"github.com/riftlab/automaton/internal/recognition"
	"github.com/riftlab/automaton/internal/rules"
	"github.com/riftlab/automaton/internal/schedule"
	"github.com/riftlab/automaton/internal/session"
	"github.com/riftlab/automaton/internal/statemachine"
	"github.com/riftlab/automaton/internal/store"
)

var (
	runScriptFile string
	runSchedule   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an automation session.",
	Long: `Run starts the Sense -> Judge -> Act loop for one script. The script
comes from the store (session.script in the config) or directly from a file
via --script-file. The session runs until interrupted or the input sink
disconnects.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger := observability.GetLogger()

		st, err := store.Open(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		script, err := loadScript(ctx, st)
		if err != nil {
			return err
		}

		templates := make([]*schemas.Template, 0, len(script.TemplateRefs))
		for _, name := range script.TemplateRefs {
			t, err := st.GetTemplate(ctx, name)
			if err != nil {
				return fmt.Errorf("script %q: %w", script.Name, err)
			}
			templates = append(templates, t)
		}

		sess, err := assembleSession(ctx, st, logger, script, templates)
		if err != nil {
			return err
		}

		runOnce := func(ctx context.Context) error {
			err := sess.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		g, gctx := errgroup.WithContext(ctx)

		if cfg.Store.WatchScripts {
			watcher := store.NewWatcher(cfg.Store.ScriptDir, func(updated *schemas.Script) error {
				if updated.Name != script.Name {
					return nil
				}
				return sess.UpdateScript(updated)
			}, logger)
			g.Go(func() error {
				err := watcher.Run(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}

		sched := runSchedule
		if sched == "" {
			sched = cfg.Session.Schedule
		}
		if sched != "" {
			scheduler, err := schedule.New(sched, runOnce, logger)
			if err != nil {
				return err
			}
			g.Go(func() error {
				err := scheduler.Run(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		} else {
			g.Go(func() error { return runOnce(gctx) })
		}

		return g.Wait()
	},
}

// loadScript resolves the script to run: an explicit file wins over the
// stored script named in the config.
func loadScript(ctx context.Context, st *store.SQLStore) (*schemas.Script, error) {
	if runScriptFile != "" {
		return store.LoadScriptFile(runScriptFile)
	}
	if cfg.Session.Script == "" {
		return nil, fmt.Errorf("no script configured: set session.script or pass --script-file")
	}
	return st.GetScript(ctx, cfg.Session.Script)
}

// assembleSession wires the full pipeline around one script.
func assembleSession(
	ctx context.Context,
	st *store.SQLStore,
	logger *zap.Logger,
	script *schemas.Script,
	templates []*schemas.Template,
) (*session.Session, error) {
	capturer, err := buildCapturer(logger)
	if err != nil {
		return nil, err
	}
	sink, err := buildSink(logger)
	if err != nil {
		return nil, err
	}

	recog := recognition.New(logger,
		recognition.WithDefaultThreshold(cfg.Recognition.DefaultThreshold),
		recognition.WithWorkers(cfg.Recognition.Workers))
	perceptionSvc := perception.New(capturer, recog, logger)

	ruleEngine := rules.NewEngine(logger)
	machines := statemachine.NewRegistry(logger)
	machineID := ""
	if script.StateMachineID != "" {
		spec, err := st.GetMachine(ctx, script.StateMachineID)
		if err != nil {
			return nil, fmt.Errorf("script %q: %w", script.Name, err)
		}
		m, err := machines.LoadSpec(spec)
		if err != nil {
			return nil, err
		}
		machineID = m.ID()
	}

	judge := judgment.New(ruleEngine, machines, logger)
	planner := execution.NewPlanner(logger)
	dispatcher := execution.NewDispatcher(sink, logger,
		execution.WithRateLimit(cfg.Execution.MaxActionsPerSecond),
		execution.WithDefaultPostDelay(cfg.Execution.DefaultPostDelay))

	return session.New(cfg.Session, logger, perceptionSvc, judge, planner, dispatcher,
		ruleEngine, recog, script, templates, machineID,
		session.WithWindow(cfg.Perception.Window),
		session.WithPreprocess(schemas.PreprocessOptions{
			Grayscale:     cfg.Perception.Grayscale,
			ContrastBoost: cfg.Perception.ContrastBoost,
		}))
}

// buildCapturer selects the frame source. Native display capture ships as a
// platform driver binary; this process supports file replay.
func buildCapturer(logger *zap.Logger) (schemas.ScreenCapturer, error) {
	if cfg.Perception.FrameDir != "" {
		return driver.NewFileCapturer(cfg.Perception.FrameDir, logger)
	}
	return nil, fmt.Errorf("no capture source configured: set perception.frame_dir")
}

// buildSink selects the input sink. Only the logging dry-run sink is built
// into this binary; delivering real input requires a platform driver.
func buildSink(logger *zap.Logger) (schemas.InputSink, error) {
	if cfg.Session.DryRun {
		return driver.NewDryRunSink(logger), nil
	}
	return nil, fmt.Errorf("no input driver available: enable session.dry_run")
}

func init() {
	runCmd.Flags().StringVar(&runScriptFile, "script-file", "", "run a script file directly instead of a stored script")
	runCmd.Flags().StringVar(&runSchedule, "schedule", "", "cron expression to start sessions on instead of immediately")
	rootCmd.AddCommand(runCmd)
}
