package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittotape/internal/cli/health"
	"github.com/marmos91/dittotape/internal/cli/output"
)

var (
	healthAddress string
	healthOutput  string
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running dttape process",
	Long: `Query the health endpoint of a running "dttape serve" (or any dttape
command run with metrics enabled) and show its status and uptime.

Examples:
  # Check the local process on the configured metrics port
  dttape health

  # Check another host
  dttape health --address tapehost:9090 --output json`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().StringVar(&healthAddress, "address", "", "host:port of the metrics server (default: localhost:metrics.port)")
	healthCmd.Flags().StringVarP(&healthOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ProcessHealth is the health of a running dttape process.
type ProcessHealth struct {
	Address   string `json:"address" yaml:"address"`
	Healthy   bool   `json:"healthy" yaml:"healthy"`
	Service   string `json:"service,omitempty" yaml:"service,omitempty"`
	StartedAt string `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime    string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	Message   string `json:"message" yaml:"message"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(healthOutput)
	if err != nil {
		return err
	}

	address := healthAddress
	if address == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		port := cfg.Metrics.Port
		if port == 0 {
			port = 9090
		}
		address = fmt.Sprintf("localhost:%d", port)
	}

	status := checkHealth(&http.Client{Timeout: 2 * time.Second}, address)

	printer := output.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), format, false)
	if format != output.FormatTable {
		if err := printer.Print(status); err != nil {
			return err
		}
	} else {
		kv := &output.KeyValues{}
		kv.Add("Address", status.Address).Add("Status", status.Message)
		if status.StartedAt != "" {
			kv.Add("Service", status.Service).
				Add("Started", status.StartedAt).
				Add("Uptime", status.Uptime)
		}
		if err := printer.Print(kv); err != nil {
			return err
		}
	}

	if !status.Healthy {
		return fmt.Errorf("dttape at %s is not healthy", address)
	}
	return nil
}

// checkHealth calls GET /health on address.
func checkHealth(client *http.Client, address string) ProcessHealth {
	status := ProcessHealth{Address: address, Message: "not running"}

	resp, err := client.Get("http://" + address + "/health")
	if err != nil {
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	var healthResp health.Response
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		status.Message = "running but health response invalid"
		return status
	}

	status.Healthy = healthResp.Healthy()
	status.Service = healthResp.Data.Service
	status.StartedAt = healthResp.Data.StartedAt
	status.Uptime = output.Uptime(time.Duration(healthResp.Data.UptimeSec) * time.Second)
	if status.Healthy {
		status.Message = "running and healthy"
	} else {
		status.Message = fmt.Sprintf("running but unhealthy: %s", healthResp.Error)
	}
	return status
}
