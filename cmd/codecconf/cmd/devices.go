package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/codecconf/internal/device"
	"github.com/jmylchreest/codecconf/internal/media"
	"github.com/jmylchreest/codecconf/internal/suite"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the registered devices and the cases that apply to them",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, _ []string) error {
	registry := device.DefaultRegistry(cfg.Device, logger)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tMIME\tCODEC\tREORDERS")
	for _, e := range registry.Entries() {
		codec := e.Mime
		if info, ok := media.LookupMime(e.Mime); ok {
			codec = info.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", e.Name, e.Kind(), e.Mime, codec, e.Reorders)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout())
	w = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CASE\tDESCRIPTION")
	for _, c := range suite.Cases() {
		fmt.Fprintf(w, "%s\t%s\n", c.Name, c.Description)
	}
	return w.Flush()
}
