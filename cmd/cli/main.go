package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iho/churchledger/internal/adapter/http/dto"
	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/infrastructure/auth"
	"github.com/iho/churchledger/internal/infrastructure/config"
	"github.com/iho/churchledger/internal/infrastructure/logger"
	"github.com/iho/churchledger/internal/infrastructure/postgres"
)

// errInconsistent makes the process exit non-zero without printing usage.
var errInconsistent = errors.New("ledger is inconsistent")

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		baseURL string
		token   string
		timeout time.Duration
	)

	rootCmd := &cobra.Command{
		Use:          "churchledger-cli",
		Short:        "ChurchLedger CLI tool",
		Long:         `A command line interface for operating the ChurchLedger service.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the ChurchLedger API")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CHURCHLEDGER_TOKEN"), "Bearer token for the API")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	client := func() *apiClient {
		return &apiClient{baseURL: baseURL, token: token, http: &http.Client{Timeout: timeout}}
	}

	rootCmd.AddCommand(
		ledgerCmd(client),
		congregationCmd(client),
		tokenCmd(),
		migrateCmd(),
	)
	return rootCmd
}

func ledgerCmd(client func() *apiClient) *cobra.Command {
	ledger := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}

	ledger.AddCommand(&cobra.Command{
		Use:   "consistency",
		Short: "Check that every congregation balance matches its confirmed transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report dto.ConsistencyResponse
			if err := client().do(http.MethodGet, "/api/v1/ledger/consistency", &report, http.StatusConflict); err != nil {
				return err
			}
			printConsistency(cmd.OutOrStdout(), &report)
			if !report.Consistent {
				return errInconsistent
			}
			return nil
		},
	})

	return ledger
}

func congregationCmd(client func() *apiClient) *cobra.Command {
	congregation := &cobra.Command{
		Use:   "congregation",
		Short: "Congregation operations",
	}

	var repair bool
	reconcile := &cobra.Command{
		Use:   "reconcile <id>",
		Short: "Recompute a congregation balance from its confirmed transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/congregations/" + args[0] + "/reconcile"
			if repair {
				path += "?repair=true"
			}

			var result dto.ReconciliationResponse
			if err := client().do(http.MethodPost, path, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	reconcile.Flags().BoolVar(&repair, "repair", false, "Overwrite a drifted balance with the recomputed value")

	congregation.AddCommand(reconcile)
	return congregation
}

func tokenCmd() *cobra.Command {
	token := &cobra.Command{
		Use:   "token",
		Short: "Access token operations",
	}

	var (
		secret       string
		expiration   time.Duration
		userID       string
		role         string
		congregation string
		email        string
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			user := &domain.User{
				ID:             userID,
				Email:          email,
				CongregationID: congregation,
				Role:           domain.Role(role),
			}
			if !user.Role.IsValid() {
				return fmt.Errorf("unknown role %q", role)
			}
			if !user.Role.CanViewAllCongregations() && congregation == "" {
				return fmt.Errorf("role %s requires --congregation", role)
			}

			signed, err := auth.NewJWTManager(secret, expiration).Generate(user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	issue.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret")
	issue.Flags().DurationVar(&expiration, "expiration", 24*time.Hour, "Token lifetime")
	issue.Flags().StringVar(&userID, "user", "", "User id")
	issue.Flags().StringVar(&role, "role", string(domain.RoleMember), "User role")
	issue.Flags().StringVar(&congregation, "congregation", "", "Congregation the user belongs to")
	issue.Flags().StringVar(&email, "email", "", "User email")
	_ = issue.MarkFlagRequired("user")

	token.AddCommand(issue)
	return token
}

func migrateCmd() *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	migrator := func() (*postgres.Migrator, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		log := logger.New(logger.Config{Level: cfg.LogLevel, Format: "console", Service: "churchledger-cli", Output: os.Stderr})
		return postgres.NewMigrator(cfg.DatabaseURL, cfg.MigrationsPath, log), nil
	}

	migrate.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := migrator()
				if err != nil {
					return err
				}
				return m.Up()
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := migrator()
				if err != nil {
					return err
				}
				return m.Down()
			},
		},
	)
	return migrate
}

// do sends a request and decodes the JSON body into out. Statuses listed in
// accept are decoded like a 2xx.
func (c *apiClient) do(method, path string, out any, accept ...int) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, status := range accept {
		ok = ok || resp.StatusCode == status
	}
	if !ok {
		var apiErr dto.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d %s: %s", method, path, resp.StatusCode, apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, bytes.TrimSpace(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printConsistency(w io.Writer, r *dto.ConsistencyResponse) {
	if r.Consistent {
		fmt.Fprintf(w, "Consistency check PASSED (%d congregations)\n", r.TotalCongregations)
		return
	}

	fmt.Fprintf(w, "Consistency check FAILED: %d of %d congregations drifted\n",
		len(r.Discrepancies), r.TotalCongregations)
	for _, d := range r.Discrepancies {
		fmt.Fprintf(w, "  %-26s recorded=%s computed=%s difference=%s\n",
			truncate(d.CongregationID, 26), d.RecordedBalance, d.CalculatedBalance, d.Difference)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
