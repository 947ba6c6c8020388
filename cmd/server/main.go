// Command opsguide-ai serves operational decision requests.
//
//	opsguide-ai [serve]          run the HTTP/WebSocket/gRPC server (default)
//	opsguide-ai classify <query> print the classification of a query
//	opsguide-ai plan <query>     print the decision artifact for a query
//
// Configuration is read from --config (YAML) with OPSGUIDE_* environment
// overrides.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/opsguide/config.yaml"

// app carries the global flags and output streams shared by all commands.
type app struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "opsguide-ai",
		Short:         "Operational intelligence service",
		Long:          "Interprets free-text operational requests, plans remediation steps and executes them against the operational API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context())
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	configDefault := defaultConfigPath
	if env := os.Getenv("OPSGUIDE_CONFIG"); env != "" {
		configDefault = env
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", configDefault, "path to the YAML configuration file")

	root.AddCommand(newServeCmd(a), newClassifyCmd(a), newPlanCmd(a))
	return root
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
