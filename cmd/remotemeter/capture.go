package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/remotemeter/internal/parser"
	"github.com/jgoulah/remotemeter/internal/scraper"
)

var (
	captureUsername string
	capturePassword string
	captureOutput   string
	captureVisible  bool
)

var captureCmd = &cobra.Command{
	Use:   "capture [year month]",
	Short: "Save the rendered meter page for inspection",
	Long: `Logs in, hands the session to a Chrome instance and saves the meter view
page as the browser renders it. Useful when the portal markup changes and
fetch stops finding readings.`,
	Args: monthArgs,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVarP(&captureUsername, "username", "u", "", "portal username")
	captureCmd.Flags().StringVarP(&capturePassword, "password", "p", "", "portal password")
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "", "HTML output file (default meter_page_YYYY_MM.html)")
	captureCmd.Flags().BoolVar(&captureVisible, "visible", false, "show the browser window")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	year, month, err := resolveMonth(args, time.Now())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := scraper.NewClientFromConfig(cfg)
	if err != nil {
		return err
	}

	username, password, err := credentials(cfg, captureUsername, capturePassword)
	if err != nil {
		return err
	}

	if !client.Login(ctx, username, password) {
		fmt.Println(errLoginFailed.Error() + ".")
		return errLoginFailed
	}

	target := scraper.MeterViewURL(client.Session().DataURL().String(), year, month, cfg.GetMeterID())
	fmt.Printf("Rendering %s...\n", target)

	capture, err := client.CaptureMonth(ctx, year, month, cfg.GetMeterID(), captureVisible)
	if err != nil {
		return err
	}

	filename := captureOutput
	if filename == "" {
		filename = fmt.Sprintf("meter_page_%d_%02d.html", year, month)
	}
	if err := os.WriteFile(filename, []byte(capture.HTML), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filename, err)
	}

	rows := parser.ParseMeterTable(capture.HTML)
	fmt.Printf("✓ Saved %s (%s), parser found %d readings\n", filename, humanize.Bytes(uint64(len(capture.HTML))), len(rows))

	if dropped := scraper.DroppedCookies(client.Session().ExportCookies(), capture.Cookies); len(dropped) > 0 {
		fmt.Printf("⚠ The browser lost or replaced session cookies %s; the page is probably logged out\n", strings.Join(dropped, ", "))
	}
	return nil
}
