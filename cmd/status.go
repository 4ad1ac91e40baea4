package cmd

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusServer string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the health endpoint of a running aquachroma server",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "aquachroma server URL")
	rootCmd.AddCommand(statusCmd)
}

type healthReport struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Results struct {
		Source          string `json:"source"`
		Count           int    `json:"count"`
		Loading         bool   `json:"loading"`
		LoadingProgress int    `json:"loading_progress"`
		Generation      uint64 `json:"generation"`
		LastUpdated     string `json:"last_updated"`
		Newest          string `json:"newest"`
	} `json:"results"`
	Database *struct {
		Driver        string `json:"driver"`
		Status        string `json:"status"`
		SizeBytes     int64  `json:"size_bytes"`
		TotalResults  int    `json:"total_results"`
		Oldest        string `json:"oldest"`
		Newest        string `json:"newest"`
		SyncedThrough string `json:"synced_through"`
	} `json:"database"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
	resp, err := client.Get(statusServer + "/api/v1/health")
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", statusServer, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var env struct {
		Code int          `json:"code"`
		Msg  string       `json:"msg"`
		Data healthReport `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if env.Code != http.StatusOK {
		return fmt.Errorf("health check failed: %s (code %d)", env.Msg, env.Code)
	}

	printHealth(cmd.OutOrStdout(), &env.Data)
	return nil
}

func printHealth(w io.Writer, h *healthReport) {
	fmt.Fprintf(w, "aquachroma %s\n", h.Version)
	fmt.Fprintf(w, "Status: %s\n", h.Status)
	fmt.Fprintf(w, "Uptime: %s\n", h.Uptime)
	fmt.Fprintln(w)

	r := h.Results
	fmt.Fprintf(w, "Results (%s):\n", r.Source)
	switch {
	case r.Loading:
		fmt.Fprintf(w, "  Loading: %s rows so far (generation %d)\n", formatNumber(r.LoadingProgress), r.Generation)
	default:
		fmt.Fprintf(w, "  Loaded: %s\n", formatNumber(r.Count))
	}
	if r.Newest != "" {
		fmt.Fprintf(w, "  Newest: %s\n", r.Newest)
	}
	if r.LastUpdated != "" {
		fmt.Fprintf(w, "  Last updated: %s\n", r.LastUpdated)
	}

	if db := h.Database; db != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Mirror: %s (%s)\n", db.Driver, db.Status)
		if db.SizeBytes > 0 {
			fmt.Fprintf(w, "  Size: %s\n", formatBytes(db.SizeBytes))
		}
		fmt.Fprintf(w, "  Results: %s\n", formatNumber(db.TotalResults))
		if db.Oldest != "" {
			fmt.Fprintf(w, "  Range: %s to %s\n", db.Oldest, db.Newest)
		}
		if db.SyncedThrough != "" {
			fmt.Fprintf(w, "  Synced through: %s\n", db.SyncedThrough)
		} else {
			fmt.Fprintln(w, "  Synced through: never (run sync)")
		}
	}
}

// formatNumber formats an integer with comma separators (e.g., 1,247,832).
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
