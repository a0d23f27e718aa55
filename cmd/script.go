// File: cmd/script.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riftlab/automaton/internal/observability"
	"github.com/riftlab/automaton/internal/store"
)

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Manage stored automation scripts.",
}

var scriptImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Validate script files and save them to the store.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		st, err := store.Open(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		for _, path := range args {
			script, err := store.LoadScriptFile(path)
			if err != nil {
				return err
			}
			if err := st.SaveScript(cmd.Context(), script); err != nil {
				return err
			}
			logger.Info("Script imported",
				zap.String("file", path),
				zap.String("name", script.Name),
				zap.Int("rules", len(script.Rules)))
		}
		return nil
	},
}

var scriptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored scripts.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store.Path, observability.GetLogger())
		if err != nil {
			return err
		}
		defer st.Close()

		scripts, err := st.ListScripts(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range scripts {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\trules=%d actions=%d templates=%d\n",
				s.Name, len(s.Rules), len(s.Actions), len(s.TemplateRefs))
		}
		return nil
	},
}

var machineImportCmd = &cobra.Command{
	Use:   "import-machine <file>...",
	Short: "Save state machine definition files to the store.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		st, err := store.Open(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		for _, path := range args {
			spec, err := store.LoadMachineFile(path)
			if err != nil {
				return err
			}
			if err := st.SaveMachine(cmd.Context(), spec); err != nil {
				return err
			}
			logger.Info("State machine imported",
				zap.String("file", path),
				zap.String("id", spec.ID),
				zap.Int("states", len(spec.States)),
				zap.Int("transitions", len(spec.Transitions)))
		}
		return nil
	},
}

func init() {
	scriptCmd.AddCommand(scriptImportCmd, scriptListCmd, machineImportCmd)
	rootCmd.AddCommand(scriptCmd)
}
