package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/godilite/grade-predictor/internal/config"
	"github.com/godilite/grade-predictor/internal/model"
	"github.com/godilite/grade-predictor/internal/schema"
	"github.com/godilite/grade-predictor/internal/service"
	"github.com/godilite/grade-predictor/internal/table"
	"github.com/godilite/grade-predictor/pkg/blobstore"
	dbbuilder "github.com/godilite/grade-predictor/pkg/database"
	"go.uber.org/zap"
)

// sampleByRole is the reference student used by check.
var sampleByRole = map[schema.Role]float64{
	schema.RoleAttendance: 85,
	schema.RoleInternal1:  30,
	schema.RoleInternal2:  35,
	schema.RoleTask:       80,
	schema.RoleStudyTime:  4,
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// loadService builds a prediction service over an artifact file.
func loadService(ctx context.Context, cfg *config.Config, logger *zap.Logger, path string) (*service.PredictionService, *schema.Schema, error) {
	sch, err := cfg.Schema()
	if err != nil {
		return nil, nil, err
	}
	pol, err := cfg.Policy(sch)
	if err != nil {
		return nil, nil, err
	}

	reg := model.NewRegistry(model.NewFileSource(path), logger,
		model.WithCompatibilityCheck(service.CheckArtifact(sch)),
		model.WithLoadTimeout(cfg.ModelLoadTimeout),
	)
	if _, err := reg.Load(ctx); err != nil {
		return nil, nil, err
	}

	svc := service.NewPredictionService(reg, sch, pol, logger,
		service.WithWorkers(cfg.BatchWorkers),
		service.WithMedianFill(cfg.BatchMedianFill),
		service.WithPassthroughColumns(cfg.BatchPassthroughColumns...),
	)
	return svc, sch, nil
}

func sampleVector(sch *schema.Schema) schema.FeatureVector {
	v := make(schema.FeatureVector)
	for _, f := range sch.Features() {
		if val, ok := sampleByRole[f.Role]; ok && f.Check(val) == nil {
			v[f.Key] = val
			continue
		}
		v[f.Key] = (f.Min + f.Max) / 2
	}
	return v
}

type checkReport struct {
	Model      *service.ModelInfo   `json:"model"`
	Sample     schema.FeatureVector `json:"sample"`
	Prediction *service.Prediction  `json:"prediction"`
}

func runCheck(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string, stdout io.Writer) error {
	fs := newFlagSet("check")
	modelPath := fs.String("model", cfg.ModelPath, "artifact JSON file")
	jsonOut := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, sch, err := loadService(ctx, cfg, logger, *modelPath)
	if err != nil {
		return err
	}
	info, err := svc.ModelInfo(ctx)
	if err != nil {
		return err
	}
	sample := sampleVector(sch)
	pred, err := svc.Predict(ctx, sample)
	if err != nil {
		return fmt.Errorf("sample prediction: %w", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(checkReport{Model: info, Sample: sample, Prediction: pred})
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Model:\t%s %s\n", info.Name, info.Version)
	fmt.Fprintf(tw, "Kind:\t%s (%s)\n", info.Kind, info.Task)
	fmt.Fprintf(tw, "Source:\t%s\n", info.Source)
	printMetrics(tw, info.Metrics)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "#\tFeature\tCoefficient\tEffect")
	for i, f := range info.Features {
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\n", i+1, f.Key, f.Coefficient, f.Effect)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "Sample input:")
	keys := make([]string, 0, len(sample))
	for k := range sample {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(tw, "  %s\t%s\n", k, strconv.FormatFloat(sample[k], 'f', -1, 64))
	}

	switch {
	case pred.Adjustment != nil:
		adj := pred.Adjustment
		fmt.Fprintf(tw, "Prediction:\traw %.2f, score %.2f, grade %s (%s)\n", adj.Raw, adj.Score, adj.Band.Grade, adj.Band.Label)
		if adj.Capped {
			fmt.Fprintf(tw, "Capped:\tat %.0f by %s\n", adj.Cap, adj.CapRule)
		}
	case pred.Classification != nil:
		c := pred.Classification
		fmt.Fprintf(tw, "Prediction:\t%s (pass %.1f%%, fail %.1f%%, %s)\n", c.Outcome, c.PassProbability, c.FailProbability, c.Source)
	}
	return tw.Flush()
}

func printMetrics(w io.Writer, m model.Metrics) {
	for _, metric := range []struct {
		name string
		val  *float64
	}{
		{"R2", m.R2}, {"MAE", m.MAE}, {"RMSE", m.RMSE}, {"Accuracy", m.Accuracy},
	} {
		if metric.val != nil {
			fmt.Fprintf(w, "%s:\t%.4f\n", metric.name, *metric.val)
		}
	}
}

func runPush(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string, stdout io.Writer) error {
	fs := newFlagSet("push")
	modelPath := fs.String("model", cfg.ModelPath, "artifact JSON file")
	to := fs.String("to", cfg.ModelSource, "destination store: sql or redis")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := model.NewFileSource(*modelPath).Load(ctx)
	if err != nil {
		return err
	}
	sch, err := cfg.Schema()
	if err != nil {
		return err
	}
	if err := service.CheckArtifact(sch)(a); err != nil {
		return err
	}

	var dest string
	switch *to {
	case config.SourceSQL:
		db, err := dbbuilder.New(ctx,
			dbbuilder.WithDriver(cfg.DBDriver),
			dbbuilder.WithDataSource(cfg.DBDSN),
		)
		if err != nil {
			return err
		}
		defer db.Close()

		src := model.NewSQLSource(db, cfg.DBDriver, cfg.ModelName)
		if err := src.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := src.Save(ctx, a); err != nil {
			return err
		}
		dest = src.Describe()

	case config.SourceRedis:
		store, err := blobstore.New(ctx,
			blobstore.WithAddress(cfg.RedisAddr),
			blobstore.WithPassword(cfg.RedisPassword),
			blobstore.WithDB(cfg.RedisDB),
			blobstore.WithDialTimeout(cfg.RedisDialTimeout),
		)
		if err != nil {
			return err
		}
		defer store.Close()

		src := model.NewRedisSource(store, cfg.ModelKey)
		if err := src.Save(ctx, a); err != nil {
			return err
		}
		dest = src.Describe()

	default:
		return fmt.Errorf("cannot push to %q: use sql or redis", *to)
	}

	logger.Info("artifact pushed", zap.String("name", a.Name), zap.String("version", a.Version), zap.String("dest", dest))
	fmt.Fprintf(stdout, "pushed %s %s to %s\n", a.Name, a.Version, dest)
	return nil
}

func runBatch(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string, stdout io.Writer) error {
	fs := newFlagSet("batch")
	modelPath := fs.String("model", cfg.ModelPath, "artifact JSON file")
	in := fs.String("in", "", "input CSV file")
	out := fs.String("out", "", "output CSV file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("batch needs -in")
	}

	svc, _, err := loadService(ctx, cfg, logger, *modelPath)
	if err != nil {
		return err
	}

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer f.Close()
	t, err := table.ReadCSV(f)
	if err != nil {
		return err
	}

	res, err := svc.PredictBatch(ctx, t)
	if err != nil {
		return err
	}

	if *out == "" {
		return table.WriteCSV(stdout, res.Table)
	}

	w, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := table.WriteCSV(w, res.Table); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	s := res.Summary
	fmt.Fprintf(stdout, "graded %d of %d rows into %s (%d rejected, %d cells filled)\n", s.Predicted, s.Total, *out, s.Rejected, s.FilledCells)
	for _, r := range res.Rows {
		if r.Err != nil {
			fmt.Fprintf(stdout, "  %v\n", r.Err)
		}
	}
	return nil
}
