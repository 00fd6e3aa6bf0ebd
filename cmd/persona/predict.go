package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/features"
	"github.com/nice-bills/chain-segment/internal/model"
)

var predictFlags struct {
	file string
}

var predictCmd = &cobra.Command{
	Use:   "predict [--file features.csv | name=value ...]",
	Short: "Predict personas from raw feature values",
	Long: `Score raw feature values with the loaded model, without fetching anything.

With --file, every row of the CSV is scored and <file>_predicted.csv is written
with two extra columns, predicted_cluster and predicted_persona. Columns that
are not model features are carried through untouched; missing features are 0.

Without --file, name=value arguments form a single sample.`,
	RunE: runPredict,
}

func init() {
	predictCmd.Flags().StringVarP(&predictFlags.file, "file", "f", "", "CSV file of feature rows")
}

// rowPredictor is the model surface used for batch scoring.
type rowPredictor interface {
	Predict(v domain.FeatureVector) (*domain.PersonaResult, error)
}

func runPredict(cmd *cobra.Command, args []string) error {
	artifacts, err := model.LoadArtifacts(cfg.TransformPath, cfg.ClusterPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	p, err := model.NewPredictor(artifacts)
	if err != nil {
		return err
	}

	if predictFlags.file == "" {
		if len(args) == 0 {
			return errors.New("either --file or name=value arguments are required")
		}
		return predictSample(cmd.OutOrStdout(), p, args)
	}

	in, err := os.Open(predictFlags.file)
	if err != nil {
		return err
	}
	defer in.Close()

	outPath := predictedPath(predictFlags.file)
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}

	n, err := predictCSV(p, in, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	logger.Info().Int("rows", n).Str("output", outPath).Msg("predictions written")
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %d predictions to %s\n", n, outPath)
	return nil
}

// predictedPath maps data.csv to data_predicted.csv.
func predictedPath(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		return path[:len(path)-4] + "_predicted.csv"
	}
	return path + "_predicted.csv"
}

// predictCSV scores every data row of in and writes it to out with the
// predicted cluster and persona appended. It returns the number of rows.
func predictCSV(p rowPredictor, in io.Reader, out io.Writer) (int, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	// Position of each feature column, -1 when absent.
	cols := make([]int, len(domain.FeatureNames))
	for i := range cols {
		cols[i] = -1
	}
	for i, h := range header {
		if idx := domain.FeatureIndex(strings.TrimSpace(h)); idx >= 0 {
			cols[idx] = i
		}
	}

	w := csv.NewWriter(out)
	if err := w.Write(append(append([]string(nil), header...), "predicted_cluster", "predicted_persona")); err != nil {
		return 0, err
	}

	n := 0
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read row %d: %w", n+1, err)
		}

		vec := domain.FeatureVector{
			Names:       append([]string(nil), domain.FeatureNames...),
			Values:      make([]float64, len(domain.FeatureNames)),
			AccountKind: domain.AccountUnknown,
		}
		for fi, ci := range cols {
			if ci < 0 || ci >= len(row) || strings.TrimSpace(row[ci]) == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[ci]), 64)
			if err != nil {
				return n, fmt.Errorf("row %d column %s: %w", n+1, domain.FeatureNames[fi], err)
			}
			vec.Values[fi] = v
		}

		res, err := p.Predict(vec)
		if err != nil {
			return n, fmt.Errorf("row %d: %w", n+1, err)
		}
		if err := w.Write(append(row, strconv.Itoa(res.ClusterIndex), res.Persona)); err != nil {
			return n, err
		}
		n++
	}

	w.Flush()
	return n, w.Error()
}

// predictSample scores one name=value sample and prints the result.
func predictSample(out io.Writer, p rowPredictor, args []string) error {
	values := make(map[string]float64, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected name=value, got %q", arg)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("feature %s: %w", name, err)
		}
		values[name] = v
	}

	vec, err := features.FromMap(values)
	if err != nil {
		return err
	}
	res, err := p.Predict(vec)
	if err != nil {
		return err
	}
	return printJob(out, &domain.Job{State: domain.JobCompleted, Result: res})
}
