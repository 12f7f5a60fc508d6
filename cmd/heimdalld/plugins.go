package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lerndmina/Heimdall-sub000/internal/plugins"
	"github.com/lerndmina/Heimdall-sub000/internal/plugins/manifest"
)

// pluginRow is one line of `plugins list`.
type pluginRow struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Status       string   `json:"status"`
	Order        int      `json:"order,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// pluginReport is the JSON form of `plugins list`.
type pluginReport struct {
	Directory string      `json:"directory"`
	Plugins   []pluginRow `json:"plugins"`
	Warnings  []string    `json:"warnings,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func newPluginsCmd(flags *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect installed plugins",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Show discovered plugins and their load order without loading them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			paths := cfg.Paths()
			overrides, err := manifest.LoadOverrides(paths.OverrideFile)
			if err != nil {
				return err
			}
			plan, planErr := plugins.BuildPlan(paths.Plugins, overrides, os.LookupEnv)
			report := buildReport(paths.Plugins, plan, planErr)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
			if planErr != nil {
				return errors.New("plugin set would not load")
			}
			return nil
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.AddCommand(list)
	return cmd
}

func buildReport(dir string, plan *plugins.Plan, planErr error) pluginReport {
	report := pluginReport{Directory: dir}
	if planErr != nil {
		report.Error = planErr.Error()
	}
	if plan == nil {
		return report
	}
	for _, w := range plan.Warnings {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", w.Dir, w.Err))
	}

	order := make(map[string]int, len(plan.Order))
	for i, m := range plan.Order {
		order[m.Name] = i + 1
	}
	problems := make(map[string][]string)
	var verr *plugins.ValidationError
	if errors.As(planErr, &verr) {
		for _, p := range verr.Problems {
			problems[p.Plugin] = append(problems[p.Plugin], p.Reason)
		}
	}
	cyclic := make(map[string]bool)
	var cerr *plugins.CycleError
	if errors.As(planErr, &cerr) {
		for _, name := range cerr.Plugins {
			cyclic[name] = true
		}
	}

	for _, m := range plan.Discovered {
		row := pluginRow{
			Name:         m.Name,
			Version:      m.Version,
			Dependencies: m.AllDependencies(),
			Order:        order[m.Name],
			Status:       "ready",
		}
		switch {
		case plan.Disabled[m.Name] != "":
			row.Status = "disabled"
			row.Reason = plan.Disabled[m.Name]
		case len(problems[m.Name]) > 0:
			row.Status = "invalid"
			row.Reason = strings.Join(problems[m.Name], "; ")
		case cyclic[m.Name]:
			row.Status = "cycle"
		case planErr != nil:
			row.Status = "blocked"
		}
		report.Plugins = append(report.Plugins, row)
	}
	return report
}

func printReport(out io.Writer, report pluginReport) {
	if len(report.Plugins) == 0 {
		fmt.Fprintln(out, "No plugins found.")
		fmt.Fprintf(out, "Plugin directory: %s\n", report.Directory)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tNAME\tVERSION\tSTATUS\tDEPENDS ON\tREASON")
	for _, row := range report.Plugins {
		order := "-"
		if row.Order > 0 {
			order = fmt.Sprintf("%d", row.Order)
		}
		deps := strings.Join(row.Dependencies, ",")
		if deps == "" {
			deps = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", order, row.Name, row.Version, row.Status, deps, row.Reason)
	}
	w.Flush()

	for _, warning := range report.Warnings {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
	if report.Error != "" {
		fmt.Fprintf(out, "error: %s\n", report.Error)
	}
}
