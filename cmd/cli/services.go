package cli

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/scanning"
	"github.com/freaksdesign/PertScan/internal/services"
)

func newServicesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "services [port]",
		Short: "Look up well-known service names by port",
		Long: `Services prints the name and description registered for a port, or the
whole registry when no port is given. Unknown ports resolve to "not available".`,
		Example: `  pertscan services 22
  pertscan services`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := services.Load(a.cfg.Services.RegistryFile)
			if err != nil {
				return err
			}

			ports := registry.Ports()
			if len(args) == 1 {
				port, err := strconv.Atoi(args[0])
				if err != nil || port < scanning.MinPort || port > scanning.MaxPort {
					return errors.ErrInvalidRange("", fmt.Sprintf("invalid port %q", args[0]))
				}
				ports = []int{port}
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Port", "Name", "Description")
			for _, port := range ports {
				name, description := registry.Lookup(port)
				_ = table.Append([]string{strconv.Itoa(port), name, description})
			}
			return table.Render()
		},
	}
}
