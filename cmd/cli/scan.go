package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/freaksdesign/PertScan/internal/db"
	"github.com/freaksdesign/PertScan/internal/scanning"
	"github.com/freaksdesign/PertScan/internal/services"
)

type scanOptions struct {
	target   string
	ports    string
	openOnly bool
	save     bool
	jsonOut  bool
	timeout  time.Duration
	poolSize int
}

func newScanCommand(a *app) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a range of TCP ports on one host",
		Long: `Scan probes every port of a contiguous range with a TCP connect attempt
and prints one row per port with its well-known service name.

Ctrl+C cancels the scan; nothing is printed for a canceled scan.`,
		Example: `  pertscan scan
  pertscan scan --target 192.168.1.10 --ports 1-1023 --open-only
  pertscan scan --target localhost --ports 8080 --json
  pertscan scan --target db.internal --ports 5400-5500 --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runScan(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.target, "target", "t", "", "host to scan (default from config, 127.0.0.1)")
	flags.StringVarP(&opts.ports, "ports", "p", "", `port range "lo-hi" or a single port (default from config, 1-1023)`)
	flags.BoolVar(&opts.openOnly, "open-only", false, "only show open ports")
	flags.BoolVar(&opts.save, "save", false, "save the result to the scan history database")
	flags.BoolVar(&opts.jsonOut, "json", false, "print results as JSON")
	flags.DurationVar(&opts.timeout, "timeout", 0, "per-port connect timeout (default from config, 3s)")
	flags.IntVar(&opts.poolSize, "pool-size", 0, "concurrent probes (default from config)")

	return cmd
}

func (a *app) runScan(cmd *cobra.Command, opts *scanOptions) error {
	target := opts.target
	if target == "" {
		target = a.cfg.Scanning.DefaultTarget
	}
	ports := opts.ports
	if ports == "" {
		ports = a.cfg.Scanning.DefaultPorts
	}

	// Validate before touching the network or the database.
	req, err := scanning.ParseScanRequest(target, ports)
	if err != nil {
		return err
	}

	var store *db.ScanStore
	if opts.save {
		database, err := a.connectDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = database.Close() }()
		store = db.NewScanStore(database, db.WithStoreLogger(a.logger))
	}

	registry, err := services.Load(a.cfg.Services.RegistryFile)
	if err != nil {
		return err
	}

	timeout := a.cfg.Scanning.ProbeTimeout
	if opts.timeout > 0 {
		timeout = opts.timeout
	}
	poolSize := a.cfg.Scanning.PoolSize
	if opts.poolSize > 0 {
		poolSize = opts.poolSize
	}

	engine := scanning.NewEngine(
		scanning.WithProber(scanning.NewTCPProber(timeout)),
		scanning.WithLookup(registry),
		scanning.WithLogger(a.logger),
		scanning.WithPoolSize(poolSize),
		scanning.WithQueueSize(a.cfg.Scanning.QueueSize),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completion, err := runSession(ctx, engine, req, a.cfg.Scanning.PollInterval)
	if err != nil {
		return err
	}
	if completion.Err != nil {
		return completion.Err
	}

	if store != nil {
		rec, err := store.SaveScan(cmd.Context(), completion)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved scan %s\n", rec.ID)
	}

	results := completion.Results
	if opts.openOnly {
		results = results.OpenPorts()
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		return writeScanJSON(out, completion, results)
	}
	renderResults(out, results)
	fmt.Fprintf(out, "\n%d of %d ports open on %s (%s)\n",
		completion.Results.OpenCount(), len(completion.Results), req.Target,
		completion.Duration().Round(time.Millisecond))
	return nil
}

// runSession starts req on a fresh session and waits for its handoff.
func runSession(
	ctx context.Context,
	scanner scanning.Scanner,
	req scanning.ScanRequest,
	interval time.Duration,
) (*scanning.Completion, error) {
	session := scanning.NewSession(scanner)
	defer session.Close()

	if _, err := session.Start(ctx, req); err != nil {
		return nil, err
	}

	// The session owns cancellation; Wait only needs to outlive the scan.
	return scanning.NewPoller(session, interval).Wait(context.Background())
}

type scanJSON struct {
	ID         string           `json:"id"`
	Target     string           `json:"target"`
	Ports      string           `json:"ports"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	OpenCount  int              `json:"open_count"`
	Results    []portResultJSON `json:"results"`
}

type portResultJSON struct {
	Port        int    `json:"port"`
	State       string `json:"state"`
	Service     string `json:"service"`
	Description string `json:"description"`
}

func writeScanJSON(w io.Writer, c *scanning.Completion, results scanning.ResultSet) error {
	out := scanJSON{
		ID:         c.ID,
		Target:     c.Request.Target,
		Ports:      c.Request.Ports.String(),
		StartedAt:  c.StartedAt,
		FinishedAt: c.FinishedAt,
		OpenCount:  c.Results.OpenCount(),
		Results:    make([]portResultJSON, 0, len(results)),
	}
	for _, r := range results {
		out.Results = append(out.Results, portResultJSON{
			Port:        r.Port,
			State:       r.State(),
			Service:     r.Name,
			Description: r.Description,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// renderResults prints the IP / Port / Status / Name / Description table.
func renderResults(w io.Writer, results scanning.ResultSet) {
	table := tablewriter.NewWriter(w)
	table.Header("IP", "Port", "Status", "Name", "Description")
	for _, r := range results {
		_ = table.Append([]string{
			r.Target,
			strconv.Itoa(r.Port),
			r.State(),
			r.Name,
			r.Description,
		})
	}
	_ = table.Render()
}
