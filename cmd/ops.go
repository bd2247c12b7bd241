package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/denoiseopt/internal/ops"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "List the candidate operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDEFAULT\tTUNABLE\tDESCRIPTION")

		tunable := map[string]bool{}
		for _, t := range ops.Tunables() {
			tunable[t.Name] = true
		}
		for _, info := range ops.Catalog() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Name, yesNo(info.Default), yesNo(tunable[info.Name]), info.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(opsCmd)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
