package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "bridged",
		Short: "Serve bridge controllers over NATS or in-process",
		Long: `Serve bridge controllers over NATS or in-process.

Configuration is read from an optional yaml file and BRIDGE_* environment variables,
e.g. BRIDGE_TRANSPORT_KIND=nats BRIDGE_TRANSPORT_NATS_URL=nats://127.0.0.1:4222.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to a yaml config file")
	root.AddCommand(newServeCmd(&cfgPath), newVersionCmd())

	return root
}

// newLogger builds the process logger. Unknown levels fall back to info, unknown formats to text.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}
