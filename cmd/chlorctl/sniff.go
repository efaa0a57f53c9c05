package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/saltcell/intellichlor-go/core/codec"
	"github.com/saltcell/intellichlor-go/transport/serial"
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Passively decode and display bus traffic",
	Long: `Listen on the RS485 bus without transmitting and print every frame
as it arrives, with timestamp, command name, and payload bytes.

Useful for watching the pool panel's own exchanges with the chlorinator
before letting chlorctl drive the bus.`,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
}

func runSniff(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger()
	port, err := serial.Open(serial.Config{
		Port:                 portName,
		BaudRate:             baudRate,
		InvertTransmitEnable: invertTE,
		Logger:               log,
	})
	if err != nil {
		return err
	}
	defer port.Close()

	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		return err
	}

	fmt.Printf("Sniffing %s @ %d baud. Press Ctrl+C to exit.\n\n", portName, baudRate)

	var window []byte
	buf := make([]byte, 64)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := port.Read(buf)
		if err != nil {
			log.Error("read error", "error", err)
			continue
		}
		if n == 0 {
			continue
		}
		window = append(window, buf[:n]...)

		for {
			frame, remaining, err := codec.Decode(window)
			if errors.Is(err, codec.ErrIncomplete) {
				window = remaining
				break
			}
			if err != nil {
				fmt.Printf("[%s] bad frame: %v\n", time.Now().Format("15:04:05.000"), err)
				window = remaining
				continue
			}
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), frame)
			window = remaining
		}
	}
}
