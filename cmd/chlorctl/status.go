package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saltcell/intellichlor-go/core/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Poll the chlorinator once and print its status",
	Long: `Run one full status poll (version, water temperature, salt level)
and print the results.

Exits non-zero if no field could be read, which usually means the
chlorinator is not on the bus or the wiring is reversed.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger()
	driver, cleanup, err := openDriver(ctx, log)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := driver.PollStatus(ctx)
	if err != nil {
		return err
	}
	if result.Failed() {
		return fmt.Errorf("no response from chlorinator on %s", portName)
	}

	printSnapshot(driver.Snapshot())
	return nil
}

func printSnapshot(snap status.Snapshot) {
	if snap.HasVersion {
		fmt.Printf("Version:       %s\n", snap.Version)
	}
	if snap.HasWaterTempF {
		fmt.Printf("Water temp:    %d °F\n", snap.WaterTempF)
	}
	if snap.HasSaltPPM {
		fmt.Printf("Salt level:    %d ppm\n", snap.SaltPPM)
	}
	if snap.HasOutputPercent {
		fmt.Printf("Output:        %d%%\n", snap.OutputPercent)
	}
	if snap.HasErrorCode {
		fmt.Printf("Error code:    0x%02X\n", snap.ErrorCode)
	}
	fmt.Printf("Alarms:        %s\n", formatAlarms(snap.Alarms))
	fmt.Printf("Remote lease:  %s\n", formatLease(snap.LeaseActive))
}

func formatAlarms(alarms []status.AlarmKind) string {
	if len(alarms) == 0 {
		return "none"
	}
	names := make([]string, len(alarms))
	for i, a := range alarms {
		names[i] = a.String()
	}
	return strings.Join(names, ", ")
}

func formatLease(active bool) string {
	if active {
		return "active"
	}
	return "lapsed (panel in control)"
}
