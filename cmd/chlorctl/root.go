package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/saltcell/intellichlor-go/device/chlorinator"
	"github.com/saltcell/intellichlor-go/transport/serial"
)

var (
	// Serial connection flags
	portName string
	baudRate int
	invertTE bool

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chlorctl",
	Short: "IntelliChlor salt chlorinator control",
	Long: `chlorctl - control a Pentair IntelliChlor salt chlorinator over RS485.

Connect a USB RS485 adapter to the chlorinator's comm bus, then:

  chlorctl status --port /dev/ttyUSB0
  chlorctl hold 60 --port /dev/ttyUSB0
  chlorctl watch --port /dev/ttyUSB0
  chlorctl mqtt --port /dev/ttyUSB0 --broker tcp://broker:1883

Adapters that drive the RS485 transceiver's DE pin from RTS are supported
directly; use --invert-te if yours inverts the line.`,
	Version: "1.0.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device (e.g., /dev/ttyUSB0)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", serial.DefaultBaudRate, "Baud rate")
	rootCmd.PersistentFlags().BoolVar(&invertTE, "invert-te", false, "Invert the RTS transmit-enable line")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// newLogger builds the process logger from the --verbose flag.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openDriver opens the serial port and starts a driver on it. The returned
// cleanup stops the driver and closes the port.
func openDriver(ctx context.Context, log *slog.Logger) (*chlorinator.Driver, func(), error) {
	port, err := serial.Open(serial.Config{
		Port:                 portName,
		BaudRate:             baudRate,
		InvertTransmitEnable: invertTE,
		Logger:               log,
	})
	if err != nil {
		return nil, nil, err
	}

	driver := chlorinator.New(port, chlorinator.Config{Logger: log})
	if err := driver.Start(ctx); err != nil {
		port.Close()
		return nil, nil, err
	}

	cleanup := func() {
		driver.Stop()
		port.Close()
	}
	return driver, cleanup, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
