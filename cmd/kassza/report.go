package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kassza/internal/config"
	"kassza/internal/logger"
	"kassza/internal/service"
)

func reportCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report <shift-id>",
		Short: "Print the closing report of a shift",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return printReport(ctx, cfg, args[0], asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(ctx context.Context, cfg config.Config, shiftID string, asJSON bool, out io.Writer) error {
	// Logs go to stderr so the report on stdout stays pipeable.
	log := logger.NewWithWriter(os.Stderr, "warn")

	port, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	reports, closeArchive, err := openArchive(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeArchive() }()

	svc := service.New(port, nil, reports, log, service.Config{Location: cfg.Location()})
	report, err := svc.GetShiftReport(ctx, shiftID)
	if err != nil {
		return fmt.Errorf("report %s: %w", shiftID, err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	_, err = fmt.Fprintln(out, report.Text)
	return err
}
