// Switchcraft - multi-vendor switch configuration tool
//
// A CLI for managing Brocade, Zyxel, and OpenWrt switches through one
// normalized vocabulary (VLAN, Port, Device) with:
//   - Dry-run by default (preview changes, require -x to execute)
//   - Desired-state apply with diff, rollback, and verification
//   - Audit logging of every operation
//   - Drift detection against stored desired state
//
// Examples:
//
//	switchcraft -d lab-brocade vlan list
//	switchcraft -d lab-brocade vlan create 100 --name Servers --untagged 1/1/5-8 -x
//	switchcraft apply desired/lab-brocade.yaml          # preview
//	switchcraft apply desired/lab-brocade.yaml -x       # execute
//	switchcraft drift desired/lab-brocade.yaml
//	switchcraft audit --device lab-brocade --failures
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/switchcraft/switchcraft/pkg/audit"
	"github.com/switchcraft/switchcraft/pkg/engine"
	"github.com/switchcraft/switchcraft/pkg/hil"
	"github.com/switchcraft/switchcraft/pkg/inventory"
	"github.com/switchcraft/switchcraft/pkg/util"
)

var (
	deviceName    string
	inventoryPath string
	executeMode   bool
	saveMode      bool
	verbose       bool
	jsonOutput    bool

	inv    *inventory.Inventory
	eng    *engine.Engine
	logger *audit.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "switchcraft",
		Short:         "Multi-vendor network switch configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if eng != nil {
				eng.Close()
			}
			if logger != nil {
				logger.Close()
			}
		},
	}

	root.PersistentFlags().StringVarP(&deviceName, "device", "d", "", "device name from inventory")
	root.PersistentFlags().StringVar(&inventoryPath, "inventory", "", "path to devices.yaml")
	root.PersistentFlags().BoolVarP(&executeMode, "execute", "x", false, "execute changes (default: dry-run)")
	root.PersistentFlags().BoolVar(&saveMode, "save", true, "persist config after successful apply")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON output")

	root.AddCommand(vlanCmd())
	root.AddCommand(portCmd())
	root.AddCommand(applyCmd())
	root.AddCommand(previewCmd())
	root.AddCommand(driftCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(deviceCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() error {
	if verbose {
		util.SetLogLevel("debug")
	}
	v := viper.New()
	v.SetEnvPrefix("SWITCHCRAFT")
	v.AutomaticEnv()
	if level := v.GetString("LOG_LEVEL"); level != "" {
		if err := util.SetLogLevel(level); err != nil {
			return err
		}
	}
	if v.GetString("LOG_FORMAT") == "json" {
		util.SetJSONFormat()
	}

	path := inventoryPath
	if path == "" {
		var err error
		if path, err = inventory.Find(); err != nil {
			return err
		}
	}
	var err error
	if inv, err = inventory.Load(path); err != nil {
		return err
	}

	ensurePassword()

	auditPath := v.GetString("AUDIT_LOG")
	if auditPath == "" {
		home, _ := os.UserHomeDir()
		auditPath = filepath.Join(home, ".switchcraft", "audit.log")
	}
	if err := os.MkdirAll(filepath.Dir(auditPath), 0o755); err != nil {
		return err
	}
	logger = audit.NewDefaultLogger(auditPath)

	eng = engine.New(inv, logger, hil.NewGate(nil))
	return nil
}

// ensurePassword prompts on a TTY when NETWORK_PASSWORD is unset.
func ensurePassword() {
	if os.Getenv("NETWORK_PASSWORD") != "" {
		return
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return
	}
	fmt.Fprint(os.Stderr, "Network password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err == nil {
		os.Setenv("NETWORK_PASSWORD", string(pw))
	}
}

func requireDevice() error {
	if deviceName == "" {
		return fmt.Errorf("device required: use -d <device>")
	}
	if _, err := inv.Get(deviceName); err != nil {
		return err
	}
	return nil
}

func execOptions() engine.ExecuteOptions {
	opts := engine.DefaultExecuteOptions()
	opts.DryRun = !executeMode
	opts.SaveOnSuccess = saveMode
	opts.Actor = os.Getenv("USER")
	return opts
}
