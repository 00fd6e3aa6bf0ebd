package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nice-bills/chain-segment/internal/client"
	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/idhash"
)

var analyzeFlags struct {
	useMemory bool
	timeout   time.Duration
	server    string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <address>",
	Short: "Analyze one wallet address in-process or on a running server",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeFlags.useMemory, "use-memory", false, "Use the in-memory provider instead of Dune")
	analyzeCmd.Flags().DurationVar(&analyzeFlags.timeout, "timeout", 2*time.Minute, "Give up waiting after this long")
	analyzeCmd.Flags().StringVar(&analyzeFlags.server, "server", "", "Base URL of a running persona server, e.g. http://localhost:8000")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if analyzeFlags.server != "" {
		ctx, cancel := context.WithTimeout(commandContext(cmd), analyzeFlags.timeout)
		defer cancel()
		job, err := analyzeRemote(ctx, client.New(analyzeFlags.server), args[0])
		if err != nil {
			return err
		}
		return printJob(os.Stdout, job)
	}

	if analyzeFlags.useMemory {
		cfg.UseMemoryProvider = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), analyzeFlags.timeout)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.orch.Submit(ctx, args[0])
	if err != nil {
		return err
	}
	updates, err := a.orch.Watch(ctx, id)
	if err != nil {
		return err
	}

	var last *domain.Job
	for job := range updates {
		last = job
	}
	if last == nil || (last.State != domain.JobCompleted && last.State != domain.JobFailed) {
		return fmt.Errorf("job %s did not finish: %w", id, ctx.Err())
	}
	return printJob(os.Stdout, last)
}

// analyzeRemote submits rawAddress to a server and waits for the result.
func analyzeRemote(ctx context.Context, c *client.Client, rawAddress string) (*domain.Job, error) {
	id, err := c.Submit(ctx, rawAddress)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("job_id", id).Msg("job submitted")
	return c.Wait(ctx, id)
}

// printJob writes a human-readable report for a terminal job.
func printJob(w io.Writer, job *domain.Job) error {
	p := message.NewPrinter(language.English)

	if job.State == domain.JobFailed {
		p.Fprintf(w, "Address:  %s\n", job.Address)
		p.Fprintf(w, "Failed:   %s\n", job.ErrorKind)
		if job.ErrorDetail != "" {
			p.Fprintf(w, "Detail:   %s\n", job.ErrorDetail)
		}
		return errors.New("analysis failed: " + string(job.ErrorKind))
	}

	res := job.Result
	p.Fprintf(w, "Address:  %s\n", job.Address)
	p.Fprintf(w, "Persona:  %s\n", res.Persona)
	p.Fprintf(w, "Account:  %s\n", res.AccountKind)
	p.Fprintf(w, "Model:    %s\n", idhash.Short(res.ModelVersion))

	p.Fprintf(w, "\nConfidence\n")
	type entry struct {
		persona string
		conf    float64
	}
	entries := make([]entry, 0, len(res.Confidences))
	for persona, c := range res.Confidences {
		entries = append(entries, entry{persona, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].conf != entries[j].conf {
			return entries[i].conf > entries[j].conf
		}
		return entries[i].persona < entries[j].persona
	})
	for _, e := range entries {
		p.Fprintf(w, "  %6.2f%%  %s\n", e.conf*100, e.persona)
	}

	p.Fprintf(w, "\nKey stats\n")
	for _, name := range []string{
		domain.FeatureTxCount,
		domain.FeatureActiveDays,
		domain.FeatureTotalNFTVolumeUSD,
		domain.FeatureDexTrades,
		domain.FeatureTotalGasSpent,
	} {
		p.Fprintf(w, "  %-22s %.2f\n", name, res.Stats[name])
	}

	if res.Explanation != "" {
		p.Fprintf(w, "\n%s\n", res.Explanation)
	}
	return nil
}
