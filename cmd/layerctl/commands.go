package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/vector-layer-cache/internal/app"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/config"
	"github.com/mohammed-shakir/vector-layer-cache/internal/logger"
	"github.com/mohammed-shakir/vector-layer-cache/internal/vectorcache"
)

type globals struct {
	dir      string
	logLevel string
	stderr   io.Writer
}

func (g *globals) open(ctx context.Context, preload bool) (*vectorcache.Cache, vectorcache.LoadReport, error) {
	cfg := config.FromEnv()
	if g.dir != "" {
		cfg.Vector.Dir = g.dir
	}
	cfg.Vector.Preload = preload
	zl := logger.Build(logger.Config{Level: g.logLevel, Console: true, Service: "layerctl"}, g.stderr)
	c, err := app.NewCache(ctx, cfg.Vector, logger.NewSlog(&zl))
	if err != nil {
		return nil, vectorcache.LoadReport{}, err
	}
	rep, err := c.Load(ctx)
	if err != nil {
		return nil, vectorcache.LoadReport{}, fmt.Errorf("load %s: %w", cfg.Vector.Dir, err)
	}
	return c, rep, nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{stderr: stderr}
	root := &cobra.Command{
		Use:           "layerctl",
		Short:         "Inspect and export layers of a vector data directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&g.dir, "dir", "", "data directory (default $VECTOR_DATA_DIR)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "debug, info, warn or error")

	root.AddCommand(
		newListCmd(g),
		newBoundsCmd(g),
		newDumpCmd(g),
		newCheckCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "layerctl %s\ncommit: %s\nbuilt: %s\n", version, commit, buildDate)
			},
		},
	)
	return root
}

func newListCmd(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the layers of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := g.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			layers := c.Layers()
			if asJSON {
				type row struct {
					ID           string     `json:"id"`
					DisplayName  string     `json:"display_name"`
					GeometryType string     `json:"geometry_type"`
					FeatureCount int        `json:"feature_count"`
					Bounds       [4]float64 `json:"bounds"`
					SourceCRS    string     `json:"source_crs"`
				}
				rows := make([]row, 0, len(layers))
				for _, d := range layers {
					rows = append(rows, row{d.ID(), d.DisplayName, string(d.GeometryKind), d.FeatureCount, d.BBox.Array(), d.SourceCRS})
				}
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tFEATURES\tSOURCE CRS")
			for _, d := range layers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.ID(), d.DisplayName, d.GeometryKind, d.FeatureCount, d.SourceCRS)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newBoundsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "bounds",
		Short: "Print the overall bounds of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := g.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			s, ok := c.Summary()
			if !ok {
				return writeJSON(cmd.OutOrStdout(), struct{}{})
			}
			return writeJSON(cmd.OutOrStdout(), s)
		},
	}
}

func newDumpCmd(g *globals) *cobra.Command {
	var (
		tolerance float64
		outPath   string
	)
	cmd := &cobra.Command{
		Use:   "dump <layer>",
		Short: "Write a layer as a GeoJSON FeatureCollection",
		Long:  "The layer is named by display name or by <source file>/<layer name>.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := g.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			s, err := c.Fetch(cmd.Context(), args[0], tolerance)
			if err != nil {
				return fmt.Errorf("%s (%s): %w", args[0], vectorcache.Classify(err), err)
			}
			if outPath == "" || outPath == "-" {
				_, err = cmd.OutOrStdout().Write(s.Body)
				return err
			}
			return os.WriteFile(outPath, s.Body, 0o644)
		},
	}
	cmd.Flags().Float64Var(&tolerance, "simplify", 0, "Douglas-Peucker tolerance in degrees (0 = none)")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output file (default stdout)")
	return cmd
}

var errLoadProblems = errors.New("some sources could not be loaded")

func newCheckCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load every layer and report empty or broken sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, rep, err := g.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "files: %d\nlayers: %d\n", rep.Files, rep.Layers)
			for _, e := range rep.Empty {
				fmt.Fprintf(out, "empty: %s\n", e)
			}
			failed := make([]string, 0, len(rep.Failed))
			for k := range rep.Failed {
				failed = append(failed, k)
			}
			sort.Strings(failed)
			for _, k := range failed {
				fmt.Fprintf(out, "failed: %s: %s\n", k, rep.Failed[k])
			}
			if len(failed) > 0 {
				return fmt.Errorf("%w: %d", errLoadProblems, len(failed))
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
