package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"uvdm/internal/middleware"
	"uvdm/pkg/contracts/domain"
)

func newGenerateCmd() *cobra.Command {
	var (
		licenseType  string
		durationDays int
		perpetual    bool
		features     []string
		adminKey     string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new license key",
		Long: `Generate a new license key on the server. Requires the admin key unless
the server's admin guard is disabled.`,
		Example: `  license-server generate --admin-key secret
  license-server generate --type pro --duration 30 --features download,upload
  license-server generate --perpetual`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(licenseType, durationDays, perpetual, features, adminKey)
		},
	}

	cmd.Flags().StringVar(&licenseType, "type", "", "license type (default: standard)")
	cmd.Flags().IntVar(&durationDays, "duration", 0, "validity in days (default: 365)")
	cmd.Flags().BoolVar(&perpetual, "perpetual", false, "issue a license with no expiry")
	cmd.Flags().StringSliceVar(&features, "features", nil, "feature list (default: download,upload,playlist,batch)")
	cmd.Flags().StringVar(&adminKey, "admin-key", "", "admin key (default: UVDM_ADMIN_KEY env)")

	return cmd
}

func runGenerate(licenseType string, durationDays int, perpetual bool, features []string, adminKey string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if adminKey == "" {
		adminKey = os.Getenv("UVDM_ADMIN_KEY")
	}

	req := domain.GenerateRequest{
		LicenseType: licenseType,
		Features:    features,
	}
	switch {
	case perpetual:
		zero := 0
		req.DurationDays = &zero
	case durationDays > 0:
		req.DurationDays = &durationDays
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url := strings.TrimRight(cfg.Client.ServerURL, "/") + "/api/license/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if adminKey != "" {
		httpReq.Header.Set(middleware.AdminHeaderName, adminKey)
	}

	resp, err := (&http.Client{Timeout: cfg.Client.Timeout}).Do(httpReq)
	if err != nil {
		return fmt.Errorf("license server request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var result domain.GenerateResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	printJSON(result)
	if !result.Success {
		return fmt.Errorf("generate failed: %s", result.Error)
	}
	return nil
}
