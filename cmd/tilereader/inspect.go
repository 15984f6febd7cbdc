package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qri-io/tilereader/granule"
)

var (
	inspectGranule string
	inspectAttrs   []string
)

// variable attributes shown next to each variable when present
var inspectVarAttrs = []string{"units", "_FillValue", "scale_factor", "add_offset"}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List the variables of a granule",
	Long: `The inspect command prints each variable of a granule with its dimensions and
shape, followed by the global attributes named with --attr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := granule.Open(inspectGranule)
		if err != nil {
			return err
		}
		defer h.Close()
		return inspect(cmd.OutOrStdout(), h, inspectAttrs)
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectGranule, "granule", "", "granule URI, e.g. file:/data/granule.nc")
	inspectCmd.Flags().StringSliceVar(&inspectAttrs, "attr", []string{"title"}, "global attributes to print")
	inspectCmd.MarkFlagRequired("granule")
}

func inspect(w io.Writer, h granule.Handle, globals []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIABLE\tDIMENSIONS\tSHAPE\tATTRIBUTES")
	for _, name := range h.Variables() {
		dims, err := h.Dimensions(name)
		if err != nil {
			return err
		}
		shape, err := h.Shape(name)
		if err != nil {
			return err
		}
		var attrs []string
		for _, a := range inspectVarAttrs {
			if v, ok := h.Attribute(name, a); ok {
				attrs = append(attrs, fmt.Sprintf("%s=%v", a, v))
			}
		}
		fmt.Fprintf(tw, "%s\t(%s)\t%v\t%s\n", name, strings.Join(dims, ", "), shape, strings.Join(attrs, " "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, a := range globals {
		if v, ok := h.GlobalAttribute(a); ok {
			fmt.Fprintf(w, "%s: %v\n", a, v)
		}
	}
	return nil
}
