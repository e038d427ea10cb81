package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiesamples/timerharness/internal/containers"
	"github.com/kiesamples/timerharness/internal/render"
)

var (
	flagCleanupArtifacts bool
	flagCleanupImages    bool
)

func init() {
	cleanupCmd.Flags().BoolVar(&flagCleanupArtifacts, "artifacts", false, "remove rendered per-node CLI scripts")
	cleanupCmd.Flags().BoolVar(&flagCleanupImages, "images", true, "force-remove images carrying the cleanup label")
	rootCmd.AddCommand(cleanupCmd)
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove leftovers from interrupted runs",
	Long: `Force-remove every image carrying the configured cleanup label and,
with --artifacts, the rendered per-node CLI scripts.

Examples:
  timerharness cleanup
  timerharness cleanup --artifacts --images=false`,
	RunE: runCleanup,
}

type cleanupResult struct {
	Label          string   `json:"label,omitempty"`
	ImagesRemoved  int      `json:"images_removed"`
	ArtifactsFound []string `json:"artifacts_removed"`
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	res := cleanupResult{ArtifactsFound: []string{}}
	var errs []error

	if flagCleanupArtifacts {
		renderer := render.NewRenderer(cfg.Artifact.OutputDir, cfg.Artifact.Prefix, cfg.Server.Cluster, nil)
		for _, node := range cfg.Server.Nodes {
			path := renderer.ArtifactPath(node)
			switch err := os.Remove(path); {
			case err == nil:
				res.ArtifactsFound = append(res.ArtifactsFound, path)
			case errors.Is(err, os.ErrNotExist):
			default:
				errs = append(errs, err)
			}
		}
	}

	if flagCleanupImages && cfg.Cleanup.ImageLabel != "" {
		res.Label = cfg.Cleanup.ImageLabel
		n, err := containers.NewRuntime(logger).RemoveLabeledImages(cmd.Context(), cfg.Cleanup.ImageLabel)
		res.ImagesRemoved = n
		if err != nil {
			errs = append(errs, err)
		}
	}

	w := cmd.OutOrStdout()
	if flagJSON {
		if err := writeJSON(w, res); err != nil {
			return err
		}
	} else {
		if res.Label != "" {
			fmt.Fprintf(w, "Removed %d image(s) labelled %s\n", res.ImagesRemoved, res.Label)
		}
		for _, p := range res.ArtifactsFound {
			fmt.Fprintf(w, "Removed %s\n", p)
		}
	}
	return errors.Join(errs...)
}
