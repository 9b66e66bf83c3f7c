// =============================================================================
// 文件: cmd/rtpsctl/stats.go
// 描述: stats 子命令 - 拉取运行中实例的 JSON 快照
// =============================================================================
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statsMetricsAddr string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Dump a running rtpsctl serve instance's JSON snapshot",
	Long: `stats polls a running instance's metrics HTTP server's /snapshot
endpoint and pretty-prints DataLink's current endpoint/buffer occupancy.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVarP(&statsMetricsAddr, "metrics-addr", "m", "http://127.0.0.1:9100", "base URL of the target instance's metrics server")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(statsMetricsAddr + "/snapshot")
	if err != nil {
		return fmt.Errorf("rtpsctl stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rtpsctl stats: server returned %s", resp.Status)
	}

	var snapshot map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return fmt.Errorf("rtpsctl stats: decode response: %w", err)
	}

	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("rtpsctl stats: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
