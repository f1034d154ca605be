package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rzzdr/cat-risk-pipeline/internal/bootstrap"
	"github.com/rzzdr/cat-risk-pipeline/internal/engine"
	"github.com/rzzdr/cat-risk-pipeline/pkg/currency"
	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/performance"
)

const (
	defaultTextRows = 20
	histogramWidth  = 40
)

type runOptions struct {
	*rootOptions

	attachment float64
	limit      float64
	trials     int
	seed       int64
	workers    int
	rows       int
	bins       int
	format     string
	cpuProfile string
	memProfile string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation and print its risk metrics",
		Long: `Draw annual ground-up losses, apply the layer and report AAL, PML99,
the exceedance probability curve and a histogram of net losses.

Omitted terms fall back to the configured defaults (attachment $0,
limit $10,000,000, 10,000 trials).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd)
		},
	}

	flags := runCmd.Flags()
	flags.Float64VarP(&opts.attachment, "attachment", "a", 0, "layer attachment point in dollars")
	flags.Float64VarP(&opts.limit, "limit", "l", 0, "layer limit in dollars")
	flags.IntVarP(&opts.trials, "trials", "n", 0, "number of simulated years")
	flags.Int64VarP(&opts.seed, "seed", "s", 0, "random seed for a reproducible run")
	flags.IntVarP(&opts.workers, "workers", "w", 0, "parallel generator workers")
	flags.IntVar(&opts.rows, "rows", -1, "EP curve rows to show (0 for all; default 20 for text output)")
	flags.IntVar(&opts.bins, "bins", 0, "histogram bins")
	flags.StringVarP(&opts.format, "format", "f", "text", "output format (text, json)")
	flags.StringVar(&opts.cpuProfile, "cpuprofile", "", "write a CPU profile to this file")
	flags.StringVar(&opts.memProfile, "memprofile", "", "write a heap profile to this file")

	return runCmd
}

func (o *runOptions) run(cmd *cobra.Command) error {
	if o.format != "text" && o.format != "json" {
		return errors.InvalidArgument("unknown output format %q", o.format)
	}

	cfg, err := o.load()
	if err != nil {
		return err
	}

	req := o.request(cmd)

	if o.cpuProfile != "" {
		stopProfile, err := performance.StartCPUProfile(o.cpuProfile)
		if err != nil {
			return err
		}
		defer stopProfile()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := engine.NewService(bootstrap.EngineConfig(cfg.Simulation)).Simulate(ctx, req)
	if err != nil {
		return err
	}

	if o.memProfile != "" {
		if err := performance.WriteHeapProfile(o.memProfile); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if o.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printResult(out, result)
}

// request copies only the flags the user set so the rest resolve to defaults
func (o *runOptions) request(cmd *cobra.Command) models.SimulationRequest {
	flags := cmd.Flags()
	req := models.SimulationRequest{
		Workers:       o.workers,
		HistogramBins: o.bins,
	}

	if flags.Changed("attachment") {
		req.Attachment = &o.attachment
	}
	if flags.Changed("limit") {
		req.Limit = &o.limit
	}
	if flags.Changed("trials") {
		req.Trials = &o.trials
	}
	if flags.Changed("seed") {
		req.Seed = &o.seed
	}

	switch {
	case o.rows > 0:
		req.CurveRows = o.rows
	case o.rows == 0:
		// a zero request means the configured default, so ask for more rows than exist
		req.CurveRows = math.MaxInt32
	case o.format == "text":
		req.CurveRows = defaultTextRows
	}
	return req
}

func printResult(w io.Writer, r *models.SimulationResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "CAT LAYER SIMULATION")
	fmt.Fprintf(tw, "  Attachment:\t%s\n", currency.Format(r.Attachment))
	fmt.Fprintf(tw, "  Limit:\t%s\n", currency.Format(r.Limit))
	fmt.Fprintf(tw, "  Trials:\t%d\n", r.Trials)
	fmt.Fprintf(tw, "  Seed:\t%d\n", r.Seed)
	fmt.Fprintf(tw, "  Run ID:\t%s\n", r.RunID)
	fmt.Fprintf(tw, "  Duration:\t%.1fms\n", r.DurationMs)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "RISK METRICS")
	fmt.Fprintf(tw, "  Average Annual Loss (AAL):\t%s\n", r.Metrics.AALDisplay)
	fmt.Fprintf(tw, "  PML 1-in-100 (99th percentile):\t%s\n", r.Metrics.PML99Display)
	fmt.Fprintln(tw)

	title := "EXCEEDANCE PROBABILITY CURVE"
	if r.CurveTruncated {
		title += fmt.Sprintf(" (%d of %d rows)", len(r.EPCurve), r.Trials)
	}
	fmt.Fprintln(tw, title)
	fmt.Fprintln(tw, "  RANK\tRETURN PERIOD (YRS)\tNET LOSS")
	for _, p := range r.EPCurve {
		fmt.Fprintf(tw, "  %d\t%.1f\t%s\n", p.Rank, p.ReturnPeriod, currency.Format(p.Loss))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Histogram) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "NET LOSS DISTRIBUTION")
	return printHistogram(w, r.Histogram)
}

func printHistogram(w io.Writer, bins []models.HistogramBin) error {
	peak := 0
	for _, b := range bins {
		peak = max(peak, b.Count)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, b := range bins {
		width := 0
		if peak > 0 {
			width = b.Count * histogramWidth / peak
		}
		if b.Count > 0 && width == 0 {
			width = 1
		}
		fmt.Fprintf(tw, "  %s - %s\t%s %d\n",
			currency.Format(b.Lower), currency.Format(b.Upper), strings.Repeat("#", width), b.Count)
	}
	return tw.Flush()
}
