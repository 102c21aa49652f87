package cmd

import (
	"fmt"
	"github.com/ValentinKolb/artic/cmd/file"
	"github.com/ValentinKolb/artic/cmd/probe"
	"github.com/ValentinKolb/artic/cmd/util"
	"github.com/ValentinKolb/artic/rpc/common"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "artic",
		Short: "Artic Base protocol client",
		Long: fmt.Sprintf(`artic (v%s)

A client for the Artic Base RPC protocol. It negotiates a session with a peer,
multiplexes requests over the worker connections and reads remote files
through a tiered cache.`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			return common.InitLoggers(level)
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of artic",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("artic v%s (protocol version %d)\n", Version, common.ProtocolVersion)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(probe.ProbeCmd)
	RootCmd.AddCommand(file.FileCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("log level (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
