package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marlinkv/marlin/cmd/cli"
	"github.com/marlinkv/marlin/cmd/serve"
	"github.com/marlinkv/marlin/cmd/util"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "marlin",
		Short: "sharded in-memory key-value engine",
		Long: fmt.Sprintf(`marlin (v%s)

A sharded in-memory key-value engine with cluster slot ownership
and live slot migration between nodes.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of marlin",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("marlin v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(cli.CliCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, binary, s2)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
