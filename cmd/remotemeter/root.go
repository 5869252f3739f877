package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jgoulah/remotemeter/internal/config"
)

var (
	cfgFile string
	debug   bool
)

var (
	errLoginFailed = errors.New("로그인에 실패했습니다")
	errNoData      = errors.New("데이터를 가져올 수 없습니다")
)

var rootCmd = &cobra.Command{
	Use:   "remotemeter",
	Short: "Collect remote meter readings from the Ruvie portal",
	Long: `remotemeter logs in to the Ruvie apartment portal and downloads the
daily electricity meter readings shown on its remote metering page.

Readings are written as JSON files that can be displayed as tables or
published to Home Assistant over MQTT.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initSlog(debug)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log every request")
}

func initSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the configuration file. DEBUG in the config or
// environment turns on debug logging too.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if cfg.Debug && !debug {
		initSlog(true)
	}
	return cfg, nil
}

// credentials resolves the username and password from flags, then config,
// then an interactive prompt
func credentials(cfg *config.Config, username, password string) (string, string, error) {
	if username == "" {
		username = cfg.Username
	}
	if password == "" {
		password = cfg.Password
	}

	if username == "" {
		fmt.Print("아이디: ")
		if _, err := fmt.Scanln(&username); err != nil {
			return "", "", fmt.Errorf("reading username: %w", err)
		}
		username = strings.TrimSpace(username)
	}
	if password == "" {
		fmt.Print("비밀번호: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", "", fmt.Errorf("reading password: %w", err)
		}
		password = string(raw)
	}

	return username, password, nil
}
