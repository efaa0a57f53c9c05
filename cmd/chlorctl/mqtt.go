package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/saltcell/intellichlor-go/bridge/mqtt"
	"github.com/saltcell/intellichlor-go/core/status"
	"github.com/saltcell/intellichlor-go/device/chlorinator"
)

var (
	mqttBroker   string
	mqttUsername string
	mqttTLS      bool
	mqttPrefix   string
	mqttDeviceID string
	mqttInterval time.Duration
)

var mqttCmd = &cobra.Command{
	Use:   "mqtt",
	Short: "Bridge the chlorinator to an MQTT broker",
	Long: `Poll the chlorinator continuously and publish its state to MQTT,
while accepting output commands back from the broker.

State is published retained under {prefix}/{device}/..., one topic per
field, plus an availability topic with a last-will so subscribers see
"offline" if the bridge dies. Publishing a level 0-100 to
{prefix}/{device}/output/set holds the output there; publishing "off"
releases it.

The broker password is read from the CHLORCTL_MQTT_PASSWORD environment
variable. The flag is intentionally not provided to keep credentials out
of shell history.`,
	RunE: runMQTT,
}

func init() {
	mqttCmd.Flags().StringVar(&mqttBroker, "broker", "", "MQTT broker URL (e.g., tcp://broker:1883)")
	mqttCmd.Flags().StringVar(&mqttUsername, "username", "", "MQTT username")
	mqttCmd.Flags().BoolVar(&mqttTLS, "tls", false, "Use TLS for the MQTT connection")
	mqttCmd.Flags().StringVar(&mqttPrefix, "prefix", mqtt.DefaultTopicPrefix, "MQTT topic prefix")
	mqttCmd.Flags().StringVar(&mqttDeviceID, "device-id", mqtt.DefaultDeviceID, "Device segment in MQTT topics")
	mqttCmd.Flags().DurationVarP(&mqttInterval, "interval", "i", chlorinator.DefaultPollInterval, "Poll interval")
	mqttCmd.MarkFlagRequired("broker")
	rootCmd.AddCommand(mqttCmd)
}

func runMQTT(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger()
	driver, cleanup, err := openDriver(ctx, log)
	if err != nil {
		return err
	}
	defer cleanup()

	renewals := chlorinator.NewRenewalScheduler(driver, chlorinator.RenewalConfig{Logger: log})
	go renewals.Start(ctx)
	defer renewals.Stop()

	bridge := mqtt.New(renewals, mqtt.Config{
		Broker:      mqttBroker,
		Username:    mqttUsername,
		Password:    os.Getenv("CHLORCTL_MQTT_PASSWORD"),
		UseTLS:      mqttTLS,
		TopicPrefix: mqttPrefix,
		DeviceID:    mqttDeviceID,
		Logger:      log,
	})
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting MQTT bridge: %w", err)
	}
	defer bridge.Stop()

	driver.SetOnUpdate(func(snap status.Snapshot) {
		if err := bridge.Publish(snap); err != nil {
			log.Warn("publishing snapshot", "error", err)
		}
	})

	fmt.Printf("Bridging %s to %s as %s/%s. Press Ctrl+C to exit.\n",
		portName, mqttBroker, mqttPrefix, mqttDeviceID)

	polls := chlorinator.NewPollScheduler(driver, chlorinator.PollConfig{
		Interval: mqttInterval,
		Logger:   log,
	})
	polls.Start(ctx)
	return nil
}
