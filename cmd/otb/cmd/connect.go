package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/board"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/idcode"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/probe"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/session"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/target"
)

var (
	adapterType   string
	adapterSerial string
	simIDCodes    []string // For simulator: IDCODEs on the simulated chain
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a target and report what was found",
	Long: `Resolve the target type, open the probe, initialize the board and print the
devices found on the chain. The board is uninitialized before exiting.

Examples:
  # Generic cortex_m on the simulator
  otb connect

  # nRF52 from an explicit pack, two simulated devices
  otb connect -t nrf52 --pack packs/nrf52.bsd --sim-ids 0x4BA00477,0x06438041 --chain-length 2

  # CMSIS-DAP probe
  otb connect -a cmsisdap -t stm32f303`,
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringVarP(&adapterType, "adapter", "a", "simulator",
		"probe adapter type (simulator, cmsisdap)")
	connectCmd.Flags().StringVarP(&adapterSerial, "serial", "s", "",
		"probe serial number (if multiple probes)")
	connectCmd.Flags().StringSliceVar(&simIDCodes, "sim-ids", nil,
		"simulator: IDCODEs on the chain (hex, e.g., 0x4BA00477,0x06438041)")
}

// reporter prints board hook notifications.
type reporter struct{}

func (reporter) WillConnect(b *board.Board) error {
	fmt.Printf("Connecting to %s...\n", b.Description())
	return nil
}

func (reporter) DidConnect(b *board.Board) error {
	fmt.Printf("Connected to %s\n", b.Description())
	return nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	p, err := createProbe(adapterType, adapterSerial)
	if err != nil {
		return fmt.Errorf("failed to create probe: %w", err)
	}
	defer p.Close()

	sess := session.New(options,
		session.WithProbe(p),
		session.WithLogger(logger),
		session.WithDelegate(reporter{}))

	b, err := board.New(sess, options.String(session.OptTargetOverride, ""))
	if err != nil {
		return err
	}
	if err := initBoard(b); err != nil {
		return err
	}
	defer b.Uninit()

	fmt.Printf("\nBoard:     %s\n", b.Name())
	fmt.Printf("Probe:     %s\n", b.UniqueID())
	fmt.Printf("Target:    %s\n", b.TargetType())
	if tb := b.TestBinary(); tb != "" {
		fmt.Printf("Test binary: %s\n", tb)
	}

	if ct, ok := b.Target().(*target.ChainTarget); ok {
		dev, _ := ct.Device()
		fmt.Printf("\nChain (%d device(s)):\n", len(ct.IDCodes()))
		for i, raw := range ct.IDCodes() {
			marker := " "
			if raw == dev.Raw {
				marker = "*"
			}
			id := idcode.Parse(raw)
			fmt.Printf(" %s %d: 0x%08X  %s\n", marker, i, raw, id.Manufacturer().Name)
		}
	}
	return nil
}

// initBoard runs Init and disconnects again when it fails after the target
// connected, as happens when the did-connect hook returns an error.
func initBoard(b *board.Board) error {
	if err := b.Init(); err != nil {
		if b.Initialized() {
			b.Uninit()
		}
		return err
	}
	return nil
}

func createProbe(adapterType, serial string) (*probe.AdapterProbe, error) {
	switch adapterType {
	case "simulator", "sim":
		ids := []uint32{0x4BA00477}
		if len(simIDCodes) > 0 {
			var err error
			if ids, err = parseIDCodes(simIDCodes); err != nil {
				return nil, fmt.Errorf("invalid --sim-ids: %w", err)
			}
		}
		if !options.Has(session.OptChainLength) {
			options.Set(session.OptChainLength, len(ids))
		}
		info := probe.AdapterInfo{
			Name:         "OTB Simulator",
			Vendor:       "OpenTraceLab",
			Model:        "Sim-1.0",
			SerialNumber: "sim0",
			MinFrequency: 100,
			MaxFrequency: 10000000,
		}
		return probe.New(probe.NewChainSim(info, ids...))

	case "cmsisdap", "cmsis-dap":
		adapter, err := probe.OpenCMSISDAP(probe.VendorIDRaspberryPi, probe.ProductIDCMSISDAP, serial)
		if err != nil {
			return nil, err
		}
		p, err := probe.New(adapter)
		if err != nil {
			adapter.Close()
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown adapter type: %s", adapterType)
	}
}

func parseIDCodes(values []string) ([]uint32, error) {
	ids := make([]uint32, 0, len(values))
	for _, s := range values {
		s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("bad IDCODE %q: %w", s, err)
		}
		ids = append(ids, uint32(v))
	}
	return ids, nil
}
