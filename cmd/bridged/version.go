package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information, injected at link time via -ldflags "-X main.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	GOOS      string `json:"os"`
	GOARCH    string `json:"arch"`
}

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{
				Version:   Version,
				Commit:    Commit,
				GoVersion: runtime.Version(),
				GOOS:      runtime.GOOS,
				GOARCH:    runtime.GOARCH,
			}

			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(info)
			case "text":
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "bridged %s (%s) %s %s/%s\n",
					info.Version, info.Commit, info.GoVersion, info.GOOS, info.GOARCH)

				return err
			default:
				return fmt.Errorf("unknown format %q (text, json)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, json)")

	return cmd
}
