package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"uvdm/internal/infrastructure"
	"uvdm/internal/license"
)

func newVerifyCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "verify <license-key>",
		Short: "Verify a license key against the server",
		Long: `Verify a license key for this machine. Falls back to the offline cache
when the server is unreachable and the last successful verification is
recent enough.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(args[0], offline)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "skip the network and verify from the cache only")
	return cmd
}

func runVerify(key string, offline bool) error {
	client, err := newLicenseClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := client.VerifyLicense(ctx, key, offline)
	printJSON(result)
	if err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("license invalid: %s", result.Error)
	}
	return nil
}

func newActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <license-key>",
		Short: "Activate a license key on this machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivate(args[0])
		},
	}
}

func runActivate(key string) error {
	client, err := newLicenseClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.ActivateLicense(ctx, key)
	if err != nil {
		return err
	}
	printJSON(resp)
	if !resp.Success {
		return fmt.Errorf("activation failed: %s", resp.Error)
	}
	return nil
}

func newDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <license-key>",
		Short: "Deactivate a license key on this machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeactivate(args[0])
		},
	}
}

func runDeactivate(key string) error {
	client, err := newLicenseClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.DeactivateLicense(ctx, key)
	if err != nil {
		return err
	}
	printJSON(resp)
	if !resp.Success {
		return fmt.Errorf("deactivation failed: %s", resp.Error)
	}
	return nil
}

func newLicenseClient() (*license.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return license.NewClient(cfg.Client, infrastructure.GetLogger()), nil
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", v)
		return
	}
	fmt.Println(string(data))
}
