package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func applyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <desired-state.yaml>",
		Short: "Apply a desired-state document to its device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			opts := execOptions()
			opts.Context = "apply " + args[0]
			result, err := eng.ApplyConfig(context.Background(), doc, opts)
			printResult(result)
			return err
		},
	}
}

func previewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <desired-state.yaml>",
		Short: "Show the changes a document would make",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			summary, err := eng.Preview(context.Background(), doc)
			if err != nil {
				return err
			}
			fmt.Println(summary)
			return nil
		},
	}
}

func driftCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drift <desired-state.yaml>...",
		Short: "Compare stored desired state against live device state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs := make(map[string][]byte, len(args))
			for _, path := range args {
				doc, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				docs[path] = doc
			}

			reports, err := eng.DetectDriftAll(context.Background(), docs)
			if jsonOutput {
				printJSON(reports)
				return err
			}
			for path, report := range reports {
				status := "IN SYNC"
				if !report.InSync {
					status = "DRIFTED"
				}
				fmt.Printf("%s (%s): %s\n", report.DeviceID, path, status)
				for _, e := range report.Entities {
					if e.Verdict == "in-sync" {
						continue
					}
					line := fmt.Sprintf("  %-8s %-16s %s", e.Verdict, e.Entity, e.Detail)
					fmt.Println(strings.TrimRight(line, " "))
				}
			}
			return err
		},
	}
}
