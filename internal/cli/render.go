package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kiesamples/timerharness/internal/config"
	"github.com/kiesamples/timerharness/internal/render"
)

var flagRenderWatch bool

func init() {
	renderCmd.Flags().BoolVarP(&flagRenderWatch, "watch", "w", false, "re-render whenever the template changes")
	rootCmd.AddCommand(renderCmd)
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the per-node CLI script from the template",
	Long: `Substitute the partition placeholder in the template for every
configured node and write <prefix><node>.cli into the output directory.

Unlike 'run', the rendered files are kept so they can be inspected.
Remove them with 'timerharness cleanup --artifacts'.`,
	RunE: runRender,
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	renderer := render.NewRenderer(cfg.Artifact.OutputDir, cfg.Artifact.Prefix, cfg.Server.Cluster, nil)
	tmpl := render.Template{Path: cfg.Artifact.Template, Placeholder: cfg.Artifact.Placeholder}

	if err := renderOnce(cmd.OutOrStdout(), renderer, tmpl, cfg); err != nil {
		return err
	}
	if !flagRenderWatch {
		return nil
	}
	return watchTemplate(cmd, logger, renderer, tmpl, cfg)
}

func renderOnce(w io.Writer, renderer *render.Renderer, tmpl render.Template, cfg *config.Config) error {
	arts, err := renderer.RenderAll(tmpl, cfg.Server.Nodes)
	if err != nil {
		return err
	}
	if flagJSON {
		return writeJSON(w, arts)
	}
	p := newPrinter(w)
	t := newTable(p.styled, column{Header: "NODE"}, column{Header: "PARTITION"}, column{Header: "PATH"})
	for _, a := range arts {
		t.addRow(a.Node, a.Partition, a.Path)
	}
	fmt.Fprintln(w, t.render())
	return nil
}

func watchTemplate(cmd *cobra.Command, logger *log.Logger, renderer *render.Renderer, tmpl render.Template, cfg *config.Config) error {
	watcher, err := render.NewWatcher(tmpl.Path, logger)
	if err != nil {
		return err
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("watching template", "path", tmpl.Path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-watcher.Events():
			logger.Info("template changed", "op", ev.Op.String())
			if err := renderOnce(cmd.OutOrStdout(), renderer, tmpl, cfg); err != nil {
				logger.Error("render failed", "error", err)
			}
		case err := <-watcher.Errors():
			logger.Warn("watch error", "error", err)
		}
	}
}
