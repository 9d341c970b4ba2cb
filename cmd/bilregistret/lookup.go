package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	lookupFormat string
	lookupFollow bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <plate>",
	Short: "Look up a registration plate",
	Long: `Look up a registration plate in both sources and print the reconciled
record. With --follow every intermediate snapshot is printed as the sources
respond.`,
	Args: cobra.ExactArgs(1),
	RunE: runLookup,
}

func init() {
	rootCmd.AddCommand(lookupCmd)
	lookupCmd.Flags().StringVar(&lookupFormat, "format", "human", "Output format: human, json or yaml")
	lookupCmd.Flags().BoolVar(&lookupFollow, "follow", false, "Print every snapshot, not only the final one")
}

func runLookup(cmd *cobra.Command, args []string) error {
	format, err := ParseOutputFormat(lookupFormat)
	if err != nil {
		return err
	}

	eng, _, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if !lookupFollow {
		vm, lookupErr := eng.Lookup(ctx, args[0])
		if vm.Plate.IsZero() {
			return cliError(lookupErr)
		}
		text, err := FormatSnapshot(vm, format)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
		return cliError(lookupErr)
	}

	obs, err := eng.Observe(ctx, args[0])
	if err != nil {
		return cliError(err)
	}
	defer obs.Close()

	for vm := range obs.Updates() {
		if vm.Plate.IsZero() {
			continue
		}
		text, err := FormatSnapshot(vm, format)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
		if vm.Settled() {
			if vm.IsError && vm.Error != nil {
				return cliError(vm.Error)
			}
			return nil
		}
	}
	return cliError(ctx.Err())
}
