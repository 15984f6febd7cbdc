package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/qri-io/tilereader"
)

var (
	configPath  string
	readerKind  string
	granuleURI  string
	sectionSpec string
	datasetName string
	outPath     string
	summarize   bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read one tile from a granule",
	Long: `The read command extracts the section of a granule addressed by a section spec
and writes the resulting tiles, each prefixed by its length as a 4 byte big
endian integer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgs, err := tilereader.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		cfg, err := selectConfig(cfgs, readerKind)
		if err != nil {
			return err
		}
		if summarize {
			cfg.Summarize = true
		}

		r, err := tilereader.New(cfg, tilereader.WithLogger(logger))
		if err != nil {
			return err
		}

		var out io.Writer = cmd.OutOrStdout()
		if outPath != "" && outPath != "-" {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("error creating output: %w", err)
			}
			defer f.Close()
			out = f
		}

		in := &tilereader.Tile{Summary: &tilereader.Summary{
			DatasetName: datasetName,
			Granule:     granuleURI,
			SectionSpec: sectionSpec,
		}}
		n := 0
		for tile, err := range r.Assemble(in) {
			if err != nil {
				return fmt.Errorf("error reading %s: %w", granuleURI, err)
			}
			if err := tilereader.WriteDelimited(out, tile); err != nil {
				return fmt.Errorf("error writing tile: %w", err)
			}
			n++
		}
		logger.Info("wrote tiles", "count", n, "granule", granuleURI, "section_spec", sectionSpec)
		return nil
	},
}

func init() {
	readCmd.Flags().StringVar(&configPath, "config", "", "HCL reader configuration file")
	readCmd.Flags().StringVar(&readerKind, "reader", "", "reader block to use: grid, swath or timeseries (optional when the config has one)")
	readCmd.Flags().StringVar(&granuleURI, "granule", "", "granule URI, e.g. file:/data/granule.nc")
	readCmd.Flags().StringVar(&sectionSpec, "section-spec", "", "section to read, e.g. time:0:1,lat:0:10,lon:0:10")
	readCmd.Flags().StringVar(&datasetName, "dataset", "", "dataset name recorded in the tile summary")
	readCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	readCmd.Flags().BoolVar(&summarize, "summarize", false, "compute the bounding box and statistics of each tile")
	readCmd.MarkFlagRequired("config")
	readCmd.MarkFlagRequired("granule")
	readCmd.MarkFlagRequired("section-spec")
}

// selectConfig picks the reader block named by kind, or the only block when
// kind is empty
func selectConfig(cfgs []*tilereader.Config, kind string) (*tilereader.Config, error) {
	if kind == "" {
		if len(cfgs) != 1 {
			return nil, fmt.Errorf("config declares %d readers, choose one with --reader", len(cfgs))
		}
		return cfgs[0], nil
	}
	for _, c := range cfgs {
		if c.Kind == kind {
			return c, nil
		}
	}
	return nil, fmt.Errorf("config has no %q reader", kind)
}
