package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/switchcraft/switchcraft/pkg/audit"
	"github.com/switchcraft/switchcraft/pkg/engine"
)

func portCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Port operations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List ports on a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDevice(); err != nil {
				return err
			}
			cfg, err := eng.GetConfig(context.Background(), deviceName)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cfg.Ports)
			}
			names := make([]string, 0, len(cfg.Ports))
			for name := range cfg.Ports {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Printf("%-10s %-8s %-6s %-10s %-6s %s\n", "Port", "Enabled", "Link", "Speed", "PVID", "Description")
			for _, name := range names {
				p := cfg.Ports[name]
				fmt.Printf("%-10s %-8v %-6s %-10s %-6d %s\n",
					p.Name, p.Enabled, p.LinkState, p.Speed, p.PVID, p.Description)
			}
			return nil
		},
	}

	var enable, disable bool
	var description, speed string
	set := &cobra.Command{
		Use:   "set <port>",
		Short: "Configure managed port attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDevice(); err != nil {
				return err
			}
			desired := &engine.PortDesired{Name: args[0]}
			if enable {
				t := true
				desired.Enabled = &t
			}
			if disable {
				f := false
				desired.Enabled = &f
			}
			if cmd.Flags().Changed("description") {
				desired.Description = &description
			}
			if cmd.Flags().Changed("speed") {
				desired.Speed = &speed
			}
			result, err := eng.ConfigurePort(context.Background(), deviceName, desired, execOptions())
			printResult(result)
			return err
		},
	}
	set.Flags().BoolVar(&enable, "enable", false, "enable the port")
	set.Flags().BoolVar(&disable, "disable", false, "disable the port")
	set.Flags().StringVar(&description, "description", "", "port description")
	set.Flags().StringVar(&speed, "speed", "", "port speed (auto|10-half|10-full|100-half|100-full|1000-full|10G)")

	cmd.AddCommand(list, set)
	return cmd
}

func deviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Device operations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List inventory devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := inv.IDs()
			sort.Strings(ids)
			fmt.Printf("%-20s %-16s %-20s %s\n", "Device", "Type", "Host", "Port")
			for _, id := range ids {
				dev, _ := inv.Get(id)
				fmt.Printf("%-20s %-16s %-20s %d\n", id, dev.Type, dev.Host, dev.Port)
			}
			return nil
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Check device health",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDevice(); err != nil {
				return err
			}
			status, err := eng.CheckHealth(context.Background(), deviceName)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(status)
			}
			if status.Reachable {
				fmt.Printf("%s: reachable\n", deviceName)
				if status.FirmwareVersion != "" {
					fmt.Printf("  firmware: %s\n", status.FirmwareVersion)
				}
				if status.Uptime != "" {
					fmt.Printf("  uptime: %s\n", status.Uptime)
				}
				if status.PortCount > 0 {
					fmt.Printf("  ports: %d (%d active)\n", status.PortCount, status.ActivePorts)
				}
			} else {
				fmt.Printf("%s: UNREACHABLE: %s\n", deviceName, status.Error)
			}
			return nil
		},
	}

	cmd.AddCommand(list, health)
	return cmd
}

func auditCmd() *cobra.Command {
	var failuresOnly bool
	var operation string
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := audit.Filter{
				Device:      deviceName,
				Operation:   operation,
				FailureOnly: failuresOnly,
				Limit:       limit,
			}
			records, err := logger.Query(filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(records)
			}
			for _, r := range records {
				status := "OK"
				if !r.Success {
					status = "FAIL"
				}
				if r.DryRun {
					status += " (dry-run)"
				}
				line := fmt.Sprintf("%s  %-20s %-20s %-5s %s",
					r.Timestamp.Format("2006-01-02 15:04:05"), r.DeviceID, r.Operation, status, r.Error)
				fmt.Println(strings.TrimRight(line, " "))
				if len(r.RecoveryAttempts) > 0 {
					fmt.Println("    recovery: " + strconv.Itoa(len(r.RecoveryAttempts)) + " attempt(s)")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failuresOnly, "failures", false, "show failures only")
	cmd.Flags().StringVar(&operation, "operation", "", "filter by operation")
	cmd.Flags().IntVar(&limit, "limit", 50, "max records")
	return cmd
}
