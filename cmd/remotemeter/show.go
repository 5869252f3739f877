package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jgoulah/remotemeter/internal/output"
)

var showCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Display a saved readings file as a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	months, err := output.ReadFile(args[0])
	if err != nil {
		return err
	}

	if len(months) == 0 {
		fmt.Println("No readings in file")
		return nil
	}

	output.RenderMonths(os.Stdout, months)

	var total float64
	days := 0
	for i := range months {
		total += months[i].TotalDailyUsage()
		days += len(months[i].Readings)
	}
	if len(months) > 1 {
		fmt.Printf("Total: %.2f kWh (%d months, %d days)\n", total, len(months), days)
	}
	return nil
}
