package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lerndmina/Heimdall-sub000/internal/version"
)

func newVersionCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show this binary's version and that of a running host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "heimdalld: %s\n", version.FormatVersion(version.String()))

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			running, err := runningVersion(ctx, "http://"+cfg.HTTPAddr+"/healthz")
			if err != nil {
				fmt.Fprintf(out, "running host: unavailable (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "running host: %s\n", version.FormatVersion(running))
			if w := version.CheckRunningMismatch(running); w != "" {
				fmt.Fprintln(out, w)
			}
			return nil
		},
	}
}

// runningVersion asks a running host for its version through /healthz.
func runningVersion(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("health check returned %s", resp.Status)
	}
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode health response: %w", err)
	}
	return body.Version, nil
}
