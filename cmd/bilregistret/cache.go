package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var cacheFormat string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the lookup cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE:  runCacheStats,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every cached entry, including the warm tier",
	RunE:  runCachePurge,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cachePurgeCmd)
	cacheStatsCmd.Flags().StringVar(&cacheFormat, "format", "human", "Output format: human, json or yaml")
}

// CacheStatsCLI is the output of `cache stats`
type CacheStatsCLI struct {
	Entries     int            `json:"entries"`
	ByCategory  map[string]int `json:"byCategory"`
	Persistent  bool           `json:"persistent"`
	WarmEntries int            `json:"warmEntries"`
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	format, err := ParseOutputFormat(cacheFormat)
	if err != nil {
		return err
	}
	eng, _, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	stats := eng.Cache().Stats()
	resp := CacheStatsCLI{Entries: stats.Entries, ByCategory: make(map[string]int, len(stats.ByCategory))}
	for cat, n := range stats.ByCategory {
		resp.ByCategory[string(cat)] = n
	}
	warm, persistent, err := eng.WarmEntries()
	if err != nil {
		return err
	}
	resp.Persistent = persistent
	resp.WarmEntries = warm

	var text string
	switch format {
	case FormatJSON:
		text, err = formatJSON(resp)
	case FormatYAML:
		text, err = formatYAML(resp)
	default:
		text = formatCacheStatsHuman(resp)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func formatCacheStatsHuman(resp CacheStatsCLI) string {
	s := fmt.Sprintf("Entries in memory: %d\n", resp.Entries)
	cats := make([]string, 0, len(resp.ByCategory))
	for cat := range resp.ByCategory {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		s += fmt.Sprintf("  %-14s %d\n", cat, resp.ByCategory[cat])
	}
	if resp.Persistent {
		s += fmt.Sprintf("Warm tier rows: %d", resp.WarmEntries)
	} else {
		s += "Warm tier: disabled"
	}
	return s
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	eng, _, logger, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if err := eng.Cache().Purge(); err != nil {
		return err
	}
	logger.Info("Cache purged", nil)
	fmt.Fprintln(cmd.OutOrStdout(), "Cache purged")
	return nil
}
