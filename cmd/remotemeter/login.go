package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jgoulah/remotemeter/internal/config"
	"github.com/jgoulah/remotemeter/internal/scraper"
)

var (
	loginUsername string
	loginPassword string
	loginSave     bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check that the portal accepts your credentials",
	Long: `Performs the portal login handshake without fetching anything.
Exits with status 1 when the login fails. With --save, credentials that
worked are written to the config file.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "portal username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "portal password")
	loginCmd.Flags().BoolVar(&loginSave, "save", false, "store the username and password in the config file")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := scraper.NewClientFromConfig(cfg)
	if err != nil {
		return err
	}

	username, password, err := credentials(cfg, loginUsername, loginPassword)
	if err != nil {
		return err
	}

	if !client.Login(cmd.Context(), username, password) {
		fmt.Println(errLoginFailed.Error() + ".")
		return errLoginFailed
	}

	cookies := client.Session().ReconcileCookies()
	fmt.Printf("✓ Logged in as %s (%d session cookies for %s)\n", username, len(cookies), client.Session().DataURL().Host)

	if loginSave {
		if err := config.SaveCredentials(getConfigPath(), username, password); err != nil {
			return fmt.Errorf("saving credentials: %w", err)
		}
		fmt.Printf("✓ Credentials saved to %s\n", getConfigPath())
	}
	return nil
}
