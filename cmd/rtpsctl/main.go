// =============================================================================
// 文件: cmd/rtpsctl/main.go
// 描述: 主程序入口
// =============================================================================
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rtpsctl",
	Short: "RTPS 2.1 reliability core control CLI",
	Long: `rtpsctl drives the RTPS reliability engine for interop testing and
operational inspection: "serve" runs a loopback writer/reader pair from a
YAML config, "stats" polls a running instance's JSON snapshot.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
