package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/idcode"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/pack"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Inspect target packs",
}

var packShowCmd = &cobra.Command{
	Use:   "show <file|directory>",
	Short: "Show the target definitions in a pack",
	Args:  cobra.ExactArgs(1),
	RunE:  runPackShow,
}

func init() {
	rootCmd.AddCommand(packCmd)
	packCmd.AddCommand(packShowCmd)
}

func runPackShow(cmd *cobra.Command, args []string) error {
	p, err := pack.NewParser()
	if err != nil {
		return err
	}
	defs, err := p.Load(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Found %d target definition(s) in %s\n", len(defs), args[0])
	for _, def := range defs {
		fmt.Printf("\n%s\n", def.Name)
		fmt.Printf("  Entity:      %s\n", def.Entity)
		fmt.Printf("  IDCODE:      0x%08X (mask 0x%08X)\n", def.IDCode, def.IDMask)
		fmt.Printf("  Designer:    %s\n", idcode.Parse(def.IDCode).Manufacturer().Name)
		if def.IRLength > 0 {
			fmt.Printf("  IR Length:   %d bits\n", def.IRLength)
		}
		if verbose {
			fmt.Printf("  Source:      %s\n", def.Source)
		}
	}
	return nil
}
