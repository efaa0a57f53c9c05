package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/saltcell/intellichlor-go/core/status"
	"github.com/saltcell/intellichlor-go/device/chlorinator"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously poll the chlorinator and print updates",
	Long: `Poll the chlorinator on a fixed interval and print each snapshot as
it arrives. Useful for keeping an eye on salt level and alarms while
adjusting the cell or wiring.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", chlorinator.DefaultPollInterval, "Poll interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger()
	driver, cleanup, err := openDriver(ctx, log)
	if err != nil {
		return err
	}
	defer cleanup()

	driver.SetOnUpdate(func(snap status.Snapshot) {
		fmt.Printf("[%s] %s\n", snap.UpdatedAt.Format("15:04:05"), oneLine(snap))
	})

	fmt.Printf("Watching chlorinator on %s every %s. Press Ctrl+C to exit.\n", portName, watchInterval)

	sched := chlorinator.NewPollScheduler(driver, chlorinator.PollConfig{
		Interval: watchInterval,
		Logger:   log,
	})
	sched.Start(ctx)
	return nil
}

func oneLine(snap status.Snapshot) string {
	line := ""
	if snap.HasSaltPPM {
		line += fmt.Sprintf("salt=%d ppm ", snap.SaltPPM)
	}
	if snap.HasWaterTempF {
		line += fmt.Sprintf("temp=%d°F ", snap.WaterTempF)
	}
	if snap.HasOutputPercent {
		line += fmt.Sprintf("output=%d%% ", snap.OutputPercent)
	}
	return line + "alarms=" + formatAlarms(snap.Alarms)
}
