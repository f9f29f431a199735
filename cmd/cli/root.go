package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	cmdUtil "github.com/marlinkv/marlin/cmd/util"
	"github.com/marlinkv/marlin/rpc/client"
)

// CliCommands sends admin commands to a running node and prints the
// reply lines.
var CliCommands = &cobra.Command{
	Use:   "cli COMMAND [ARG...]",
	Short: "Send an admin command to a node",
	Long: `Send one admin command to a running node and print its reply.

Examples:
  marlin cli CLUSTER INFO
  marlin cli DFLYCLUSTER MYID
  marlin cli DFLYCLUSTER SLOT-MIGRATION-STATUS`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

var (
	myidCmd = &cobra.Command{
		Use:   "myid",
		Short: "Print the node id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return invoke(cmd, "DFLYCLUSTER", "MYID")
		},
	}

	statusCmd = &cobra.Command{
		Use:   "migration-status [host port]",
		Short: "Print the state of one or all slot migrations",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd, "DFLYCLUSTER", append([]string{"SLOT-MIGRATION-STATUS"}, args...)...)
		},
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitClientConfig)
	cmdUtil.SetupRPCClientFlags(CliCommands)
	CliCommands.AddCommand(myidCmd)
	CliCommands.AddCommand(statusCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	return invoke(cmd, args[0], args[1:]...)
}

// invoke dials the node, sends one command and prints the reply lines.
func invoke(cmd *cobra.Command, name string, args ...string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	dialer, err := cmdUtil.GetClientTransport()
	if err != nil {
		return err
	}
	c, err := client.NewAdminClient(dialer, cmdUtil.GetClientConfig())
	if err != nil {
		return err
	}
	defer c.Close()

	lines, err := c.Do(name, args...)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}
