package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/pack"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/probe"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/session"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/target"
)

var (
	listTargets bool
	listProbes  bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available targets or probes",
	Long: `List target types known to the built-in registry, the packs given with
--pack and the managed pack cache, or list debug probes attached to the host.

Examples:
  otb list --targets --pack packs/
  otb list --probes`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVar(&listTargets, "targets", false, "list target types (default)")
	listCmd.Flags().BoolVar(&listProbes, "probes", false, "list attached probes")
	listCmd.MarkFlagsMutuallyExclusive("targets", "probes")
}

func runList(cmd *cobra.Command, args []string) error {
	if listProbes {
		return printProbes()
	}
	return printTargets()
}

func printTargets() error {
	reg := target.NewBuiltinRegistry()
	if paths := options.Strings(session.OptPack); len(paths) > 0 {
		if _, err := pack.PopulateFromPack(reg, paths...); err != nil {
			return fmt.Errorf("load pack: %w", err)
		}
	}

	managed, err := pack.NewManagedPacks(options.String(session.OptPackCacheDir, ""), 0, pack.WithLogger(logger))
	if err != nil {
		return err
	}
	cached, err := managed.Targets()
	if err != nil {
		return fmt.Errorf("read managed packs: %w", err)
	}
	for _, name := range cached {
		if !reg.Contains(name) {
			if _, err := managed.PopulateTarget(reg, name); err != nil {
				return fmt.Errorf("load managed pack for %s: %w", name, err)
			}
		}
	}

	names := reg.Names()
	fmt.Printf("Available targets (%d):\n", len(names))
	for _, name := range names {
		source := "built-in"
		detail := ""
		if def, ok := reg.Definition(name); ok {
			source = def.Source
			detail = fmt.Sprintf("IDCODE 0x%08X/0x%08X", def.IDCode, def.IDMask)
		}
		fmt.Printf("  %-28s %-28s %s\n", name, detail, source)
	}
	return nil
}

func printProbes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	infos, err := probe.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover probes: %w", err)
	}

	fmt.Println("Detected probes:")
	for _, iface := range infos {
		line := fmt.Sprintf("  - %s [%s]", iface.Label(), iface.Kind)
		if iface.VendorID != 0 {
			line += fmt.Sprintf(" (VID:PID %04X:%04X)", iface.VendorID, iface.ProductID)
		}
		if iface.Serial != "" {
			line += " serial " + iface.Serial
		}
		fmt.Println(line)
	}
	return nil
}
