package cli

import (
	"github.com/spf13/cobra"

	"github.com/freaksdesign/PertScan/internal/daemon"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		pidFile string
		host    string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API service",
		Long: `Serve runs PertScan as a long-lived service: the REST API and WebSocket
feed over one shared scan session, scheduled scans from the config file,
Prometheus metrics on /metrics and, when a database is configured, saved
scan history.

SIGTERM or Ctrl+C stops the service; SIGUSR1 logs the current status.`,
		Example: `  pertscan serve
  pertscan serve --port 9090 --pid-file /run/pertscan.pid`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("host") {
				a.cfg.API.ListenAddr = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.API.Port = port
			}
			return daemon.New(a.cfg, a.logger, pidFile).Start()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&pidFile, "pid-file", "", "write the process ID to this file")
	flags.StringVar(&host, "host", "", "listen address (overrides api.listen_addr)")
	flags.IntVar(&port, "port", 0, "listen port (overrides api.port)")
	return cmd
}
