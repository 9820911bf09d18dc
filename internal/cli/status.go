package cli

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether a coordination server is up",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://127.0.0.1:12345", "Server base URL")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(statusURL + "/healthz")
	if err != nil {
		color.Red("✗ %s unreachable: %v", statusURL, err)
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		color.Red("✗ %s returned %d", statusURL, resp.StatusCode)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	color.Green("✓ %s healthy: %s", statusURL, body)
	return nil
}
