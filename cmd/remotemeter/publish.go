package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/remotemeter/internal/output"
	"github.com/jgoulah/remotemeter/internal/publisher"
)

var publishMeter int

var publishCmd = &cobra.Command{
	Use:   "publish <file>",
	Short: "Publish saved readings to Home Assistant",
	Long: `Reads a file written by fetch and publishes each day's reading to the
MQTT broker configured under mqtt: in the config file. Messages are
retained so Home Assistant picks them up after a restart.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().IntVar(&publishMeter, "meter", 0, "meter id used in topics (default from config, or 1)")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	months, err := output.ReadFile(args[0])
	if err != nil {
		return err
	}

	meterID := cfg.GetMeterID()
	if publishMeter > 0 {
		meterID = publishMeter
	}

	pub, err := publisher.New(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	published, err := pub.PublishMonths(meterID, months)
	if err != nil {
		return fmt.Errorf("published %d readings before failing: %w", published, err)
	}

	fmt.Printf("✓ Published %d readings to %s\n", published, pub.StateTopic(meterID))
	return nil
}
