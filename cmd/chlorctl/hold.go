package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/saltcell/intellichlor-go/device/chlorinator"
)

var holdDuration time.Duration

var holdCmd = &cobra.Command{
	Use:   "hold <percent>",
	Short: "Hold the chlorinator at a fixed output level",
	Long: `Take over the chlorinator and hold its output at the given level.

The chlorinator only honors an external setpoint while its remote control
lease is kept alive, so this command re-sends the setpoint continuously
until interrupted (or until --for elapses). On exit the lease simply
lapses and the pool panel resumes control.`,
	Args: cobra.ExactArgs(1),
	RunE: runHold,
}

func init() {
	holdCmd.Flags().DurationVar(&holdDuration, "for", 0, "Release the hold after this duration (0 = until interrupted)")
	rootCmd.AddCommand(holdCmd)
}

func runHold(cmd *cobra.Command, args []string) error {
	percent, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid percent %q: %w", args[0], err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger()
	driver, cleanup, err := openDriver(ctx, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := driver.Takeover(ctx, true); err != nil {
		return fmt.Errorf("taking over chlorinator: %w", err)
	}

	sched := chlorinator.NewRenewalScheduler(driver, chlorinator.RenewalConfig{Logger: log})
	if err := sched.Hold(percent); err != nil {
		return err
	}
	go sched.Start(ctx)
	defer sched.Stop()

	fmt.Printf("Holding output at %d%%. Press Ctrl+C to release.\n", percent)

	if holdDuration > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(holdDuration):
			fmt.Println("Hold duration elapsed, releasing.")
		}
	} else {
		<-ctx.Done()
	}

	sched.Release()

	// ctx is usually cancelled by the signal at this point, so disable the
	// takeover on its own deadline.
	offCtx, offCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer offCancel()
	return driver.Takeover(offCtx, false)
}
