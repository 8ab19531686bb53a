package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/switchcraft/switchcraft/pkg/engine"
	"github.com/switchcraft/switchcraft/pkg/model"
)

func vlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vlan",
		Short: "VLAN operations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List VLANs on a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDevice(); err != nil {
				return err
			}
			cfg, err := eng.GetConfig(context.Background(), deviceName)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cfg.VLANs)
			}
			ids := make([]int, 0, len(cfg.VLANs))
			for id := range cfg.VLANs {
				ids = append(ids, id)
			}
			sort.Ints(ids)
			fmt.Printf("%-6s %-20s %-30s %s\n", "VID", "Name", "Untagged", "Tagged")
			for _, id := range ids {
				v := cfg.VLANs[id]
				fmt.Printf("%-6d %-20s %-30s %s\n", v.ID, v.Name,
					strings.Join(v.UntaggedPorts, ","), strings.Join(v.TaggedPorts, ","))
			}
			return nil
		},
	}

	var name, untagged, tagged string
	create := &cobra.Command{
		Use:   "create <vlan-id>",
		Short: "Create or update a VLAN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDevice(); err != nil {
				return err
			}
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid VLAN id: %s", args[0])
			}
			vlan := &model.VLAN{
				ID:            id,
				Name:          name,
				UntaggedPorts: engine.ExpandPortList(splitPorts(untagged)),
				TaggedPorts:   engine.ExpandPortList(splitPorts(tagged)),
			}
			result, err := eng.CreateVLAN(context.Background(), deviceName, vlan, execOptions())
			printResult(result)
			return err
		},
	}
	create.Flags().StringVar(&name, "name", "", "VLAN name")
	create.Flags().StringVar(&untagged, "untagged", "", "untagged ports (comma separated, ranges ok)")
	create.Flags().StringVar(&tagged, "tagged", "", "tagged ports (comma separated, ranges ok)")

	del := &cobra.Command{
		Use:   "delete <vlan-id>",
		Short: "Delete a VLAN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDevice(); err != nil {
				return err
			}
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid VLAN id: %s", args[0])
			}
			result, err := eng.DeleteVLAN(context.Background(), deviceName, id, execOptions())
			printResult(result)
			return err
		},
	}

	cmd.AddCommand(list, create, del)
	return cmd
}

func splitPorts(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(result *engine.ExecuteResult) {
	if result == nil {
		return
	}
	if jsonOutput {
		printJSON(result)
		return
	}
	if result.DryRun {
		fmt.Println("DRY RUN (use -x to execute)")
	}
	for _, c := range result.ChangesMade {
		fmt.Println("  " + c)
	}
	for _, c := range result.CommandsExecuted {
		fmt.Println("    " + c)
	}
	for _, r := range result.RecoveryTrail {
		fmt.Println("  recovery: " + r)
	}
	if result.Success {
		fmt.Println("OK")
	} else {
		fmt.Printf("FAILED [%s]: %s\n", result.ErrorKind, result.Error)
	}
}
