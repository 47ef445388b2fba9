// File: cmd/notifier/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/mine-alert-notifier/internal/config"
	"github.com/smartdevs17/mine-alert-notifier/internal/connection"
	"github.com/smartdevs17/mine-alert-notifier/internal/credential"
	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/internal/notification"
	"github.com/smartdevs17/mine-alert-notifier/internal/storage"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

const (
	AppName    = "mine-alert-notifier"
	AppVersion = "1.0.0"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Mine equipment alert notifier",
	Long: `A client for the mine equipment alerting backend.
It keeps a live list of equipment notifications, raises toasts and sounds
for incoming alerts, and exposes the state over a local HTTP API.`,
	RunE: runNotifier,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Println("Configuration is valid")
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the backend REST API and push channel",
	RunE:  runTest,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a session token in the system keyring",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := credential.Open(cfg.Session.KeyringService)
		if err != nil {
			return err
		}
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Println("Stored credentials removed")
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show notifications recorded in the alert journal",
	RunE:  runHistory,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	loginCmd.Flags().String("token", "", "session token issued by the backend")
	loginCmd.Flags().String("role", "", "role hint (operator, supervisor, admin); read from the token when empty")
	loginCmd.MarkFlagRequired("token")

	historyCmd.Flags().Int("limit", 20, "maximum number of notifications")
	historyCmd.Flags().String("status", "", "filter by status (up, down)")
	historyCmd.Flags().String("tag", "", "filter by equipment tag")
	historyCmd.Flags().Bool("include-deleted", false, "include deleted notifications")
	historyCmd.Flags().Bool("json", false, "print JSON instead of a table")

	configCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(versionCmd, configCmd, testCmd, loginCmd, logoutCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// loadConfig loads, overrides and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runNotifier(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	return app.Stop()
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	utils.InitLogger("warn", cfg.Logging.Format, "stdout", "")

	fmt.Printf("Testing backend API at %s...\n", cfg.Backend.APIURL)
	api := notification.NewClient(&cfg.Backend, notification.StaticToken(cfg.Session.Token), nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.HealthTimeout+cfg.Transport.DialTimeout)
	defer cancel()

	if err := api.HealthCheck(ctx); err != nil {
		return fmt.Errorf("backend health check failed: %w", err)
	}
	fmt.Println("Backend API is healthy")

	transport := cfg.Transport.Transports[0]
	endpoint, err := connection.EndpointURL(cfg.Backend.SocketURL, cfg.Transport.Path, transport)
	if err != nil {
		return err
	}

	fmt.Printf("Opening push channel over %s at %s...\n", transport, endpoint)
	link, err := connection.NewDefaultDialer(cfg.Transport.DialTimeout).Dial(ctx, transport, endpoint)
	if err != nil {
		return fmt.Errorf("push channel handshake failed: %w", err)
	}
	defer link.Close()

	hs := link.Handshake()
	fmt.Printf("Push channel open (sid %s, ping interval %dms, upgrades %v)\n", hs.SID, hs.PingInterval, hs.Upgrades)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	token, _ := cmd.Flags().GetString("token")
	roleFlag, _ := cmd.Flags().GetString("role")

	token = strings.TrimSpace(token)
	if token == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Token must not be empty")
	}

	role := models.ParseRole(roleFlag)
	switch role {
	case "", models.RoleOperator, models.RoleSupervisor, models.RoleAdmin:
	default:
		return utils.NewAppError(utils.ErrCodeValidation, "Unknown role", roleFlag)
	}
	if role == "" {
		role, err = credential.RoleFromToken(token)
		if err != nil {
			fmt.Println("Token carries no readable role; the backend will assign it on connect")
		}
	}

	store, err := credential.Open(cfg.Session.KeyringService)
	if err != nil {
		return err
	}
	if err := store.Save(credential.Credentials{Token: token, Role: role}); err != nil {
		return err
	}

	if role != "" {
		fmt.Printf("Credentials stored (role %s)\n", role)
	} else {
		fmt.Println("Credentials stored")
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	utils.InitLogger("warn", cfg.Logging.Format, "stdout", "")

	limit, _ := cmd.Flags().GetInt("limit")
	status, _ := cmd.Flags().GetString("status")
	tag, _ := cmd.Flags().GetString("tag")
	includeDeleted, _ := cmd.Flags().GetBool("include-deleted")
	asJSON, _ := cmd.Flags().GetBool("json")

	filter := models.JournalFilter{
		IncludeDeleted: includeDeleted,
		Limit:          limit,
	}
	if status != "" {
		s := models.Status(status)
		if !s.Valid() {
			return utils.NewAppError(utils.ErrCodeValidation, "Invalid status", status)
		}
		filter.Status = &s
	}
	if tag != "" {
		filter.Tag = &tag
	}

	st, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		return err
	}
	if err := st.Connect(); err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		return err
	}

	entries, err := st.GetNotifications(cmd.Context(), filter)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECEIVED\tTAG\tEQUIPMENT\tSTATUS\tSEVERITY\tACK\tMESSAGE")
	for _, e := range entries {
		ack := "no"
		if e.Acknowledged {
			ack = "yes"
		}
		if e.DeletedAt != nil {
			ack += " (deleted)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ReceivedAt.Local().Format(time.DateTime),
			e.Tag, e.EquipmentName, e.Status, e.Severity, ack, e.Message)
	}
	return w.Flush()
}
