// File: cmd/template.go
package cmd

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
	"github.com/riftlab/automaton/internal/observability"
	"github.com/riftlab/automaton/internal/recognition"
	"github.com/riftlab/automaton/internal/store"
)

var (
	templateName      string
	templateThreshold float64
	templateAlgorithm string
	templateRegion    []int
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage stored recognition templates.",
}

var templateImportCmd = &cobra.Command{
	Use:   "import <png>",
	Short: "Save a template image to the store.",
	Long: `Import converts the image to grayscale and stores it under --name
(default: the file name without extension). Re-importing under an existing
name bumps the template's version.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		img, err := png.Decode(f)
		if err != nil {
			return fmt.Errorf("decode %q: %w", path, err)
		}

		name := templateName
		if name == "" {
			base := filepath.Base(path)
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}

		t := &schemas.Template{
			Name:      name,
			Img:       recognition.ToGray(img),
			Threshold: templateThreshold,
			Algorithm: schemas.MatchAlgorithm(templateAlgorithm),
		}
		if len(templateRegion) == 4 {
			t.Region = schemas.Region{
				X: templateRegion[0], Y: templateRegion[1],
				Width: templateRegion[2], Height: templateRegion[3],
			}
		}

		logger := observability.GetLogger()
		st, err := store.Open(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SaveTemplate(cmd.Context(), t); err != nil {
			return err
		}
		logger.Info("Template imported",
			zap.String("name", t.Name),
			zap.Int("version", t.Version),
			zap.Float64("threshold", t.Threshold))
		return nil
	},
}

func init() {
	templateImportCmd.Flags().StringVar(&templateName, "name", "", "template name (default: file name)")
	templateImportCmd.Flags().Float64Var(&templateThreshold, "threshold", 0, "match threshold in [0,1]; 0 uses the engine default")
	templateImportCmd.Flags().StringVar(&templateAlgorithm, "algorithm", string(schemas.AlgorithmNCC), "match algorithm: ncc or sad")
	templateImportCmd.Flags().IntSliceVar(&templateRegion, "region", nil, "search window hint as x,y,w,h")
	templateCmd.AddCommand(templateImportCmd)
	rootCmd.AddCommand(templateCmd)
}
