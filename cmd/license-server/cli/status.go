package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"uvdm/pkg/contracts/domain"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show license counts from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := strings.TrimRight(cfg.Client.ServerURL, "/") + "/api/license/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := (&http.Client{Timeout: cfg.Client.Timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("license server unreachable at %s: %w", cfg.Client.ServerURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var summary domain.StatusSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	fmt.Printf("Server:   %s\n", cfg.Client.ServerURL)
	fmt.Printf("Licenses: %d total, %d active, %d expired\n",
		summary.TotalLicenses, summary.ActiveLicenses, summary.ExpiredLicenses)
	return nil
}
