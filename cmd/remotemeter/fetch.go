package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/remotemeter/internal/output"
	"github.com/jgoulah/remotemeter/internal/scraper"
	"github.com/jgoulah/remotemeter/pkg/models"
)

var (
	fetchUsername string
	fetchPassword string
	fetchOutput   string
	fetchMeter    int
	fetchFrom     string
	fetchTo       string
	fetchTable    bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [year month]",
	Short: "Fetch a month of meter readings",
	Long: `Logs in to the portal and downloads the daily meter readings for one month
(the current month by default), or for every month between --from and --to.

The readings are printed and saved as JSON, by default to
meter_data_YYYY_MM.json or meter_data_YYYY_MM-YYYY_MM.json for ranges.`,
	Args: monthArgs,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchUsername, "username", "u", "", "portal username")
	fetchCmd.Flags().StringVarP(&fetchPassword, "password", "p", "", "portal password")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "output file path")
	fetchCmd.Flags().IntVar(&fetchMeter, "meter", 0, "meter id (default from config, or 1)")
	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "first month of a range (YYYY-MM)")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "last month of a range (YYYY-MM)")
	fetchCmd.Flags().BoolVar(&fetchTable, "table", false, "print readings as a table instead of JSON")
	fetchCmd.MarkFlagsRequiredTogether("from", "to")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	year, month, err := resolveMonth(args, time.Now())
	if err != nil {
		return err
	}

	var rangeStart, rangeEnd yearMonth
	isRange := fetchFrom != ""
	if isRange {
		if len(args) > 0 {
			return fmt.Errorf("year and month cannot be combined with --from/--to")
		}
		if rangeStart, err = parseYearMonth(fetchFrom); err != nil {
			return fmt.Errorf("parsing --from: %w", err)
		}
		if rangeEnd, err = parseYearMonth(fetchTo); err != nil {
			return fmt.Errorf("parsing --to: %w", err)
		}
		if rangeEnd.before(rangeStart) {
			return fmt.Errorf("--to %s is before --from %s", fetchTo, fetchFrom)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if fetchMeter > 0 {
		cfg.MeterID = fetchMeter
	}

	client, err := scraper.NewClientFromConfig(cfg)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "client configured",
		"meter", cfg.GetMeterID(),
		"timeout", cfg.GetTimeout(),
		"retries", client.Retries(),
	)

	username, password, err := credentials(cfg, fetchUsername, fetchPassword)
	if err != nil {
		return err
	}

	fmt.Println("=== Ruvie 원격 검침 데이터 조회 ===")

	if !client.Login(ctx, username, password) {
		fmt.Println(errLoginFailed.Error() + ".")
		return errLoginFailed
	}

	var (
		result   any
		months   []models.MonthReadings
		filename string
	)

	if isRange {
		months = client.FetchRange(ctx, rangeStart.year, rangeStart.month, rangeEnd.year, rangeEnd.month)
		if len(months) == 0 {
			fmt.Printf("No readings between %s and %s\n", fetchFrom, fetchTo)
			return errNoData
		}
		result = months
		filename = output.RangeFilename(rangeStart.year, rangeStart.month, rangeEnd.year, rangeEnd.month)
	} else {
		m := client.FetchMonth(ctx, year, month, cfg.GetMeterID())
		if m == nil {
			fmt.Println(errNoData.Error() + ".")
			return errNoData
		}
		months = []models.MonthReadings{*m}
		result = m
		filename = output.MonthFilename(year, month)
	}

	fmt.Println("\n=== 검침 데이터 ===")
	if fetchTable {
		output.RenderMonths(os.Stdout, months)
	} else if err := output.WriteJSON(os.Stdout, result); err != nil {
		return err
	}

	if fetchOutput != "" {
		filename = fetchOutput
	}
	n, err := output.WriteFile(filename, result)
	if err != nil {
		return err
	}

	fmt.Printf("\n데이터가 %s 파일로 저장되었습니다. (%s)\n", filename, humanize.Bytes(uint64(n)))
	return nil
}

func monthArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 1 || len(args) > 2 {
		return fmt.Errorf("expected both year and month, or neither")
	}
	return nil
}

type yearMonth struct {
	year, month int
}

func (a yearMonth) before(b yearMonth) bool {
	return a.year < b.year || (a.year == b.year && a.month < b.month)
}

// resolveMonth returns the requested year and month, or now's when no
// arguments were given
func resolveMonth(args []string, now time.Time) (int, int, error) {
	if len(args) < 2 {
		return now.Year(), int(now.Month()), nil
	}

	year, err := strconv.Atoi(args[0])
	if err != nil || year < 1 {
		return 0, 0, fmt.Errorf("invalid year %q", args[0])
	}
	month, err := strconv.Atoi(args[1])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid month %q", args[1])
	}
	return year, month, nil
}

// parseYearMonth parses YYYY-MM
func parseYearMonth(s string) (yearMonth, error) {
	y, m, ok := strings.Cut(s, "-")
	if !ok {
		return yearMonth{}, fmt.Errorf("expected YYYY-MM, got %q", s)
	}
	year, err := strconv.Atoi(y)
	if err != nil || year < 1 {
		return yearMonth{}, fmt.Errorf("invalid year in %q", s)
	}
	month, err := strconv.Atoi(m)
	if err != nil || month < 1 || month > 12 {
		return yearMonth{}, fmt.Errorf("invalid month in %q", s)
	}
	return yearMonth{year: year, month: month}, nil
}
