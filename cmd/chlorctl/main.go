// chlorctl talks to a Pentair IntelliChlor salt chlorinator over an RS485
// serial adapter. It can poll status once, hold an output level, watch the
// cell continuously, or bridge it to an MQTT broker.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
