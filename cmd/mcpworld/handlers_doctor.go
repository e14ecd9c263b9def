package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mcpworld/harness/internal/doctor"
)

// runDoctor runs the preflight probes and prints a report. Exits
// nonzero when any probe fails.
func runDoctor(ctx context.Context, configPath, execMode string, checkPorts bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	probes := doctor.Run(ctx, doctor.Options{
		Config:     cfg,
		ExecMode:   execMode,
		CheckPorts: checkPorts,
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, p := range probes {
		mark := statusMark(p.Status)
		if p.Detail != "" {
			fmt.Fprintf(w, "%s\t%s\t%s\n", mark, p.Name, p.Detail)
		} else {
			fmt.Fprintf(w, "%s\t%s\t\n", mark, p.Name)
		}
	}
	w.Flush()

	if !doctor.Healthy(probes) {
		return fmt.Errorf("preflight checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func statusMark(s doctor.Status) string {
	switch s {
	case doctor.StatusOK:
		return "[ok]"
	case doctor.StatusWarn:
		return "[warn]"
	default:
		return "[FAIL]"
	}
}
