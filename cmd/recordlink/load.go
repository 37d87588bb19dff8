package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/application/ingest"
	"github.com/recordlink/backend/internal/application/run"
	"github.com/recordlink/backend/internal/domain/record"
	"github.com/recordlink/backend/internal/domain/resource"
	"github.com/recordlink/backend/internal/infrastructure/feed"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

type loadOutput struct {
	Feed     string `json:"feed"`
	Records  int    `json:"records"`
	Rejected int    `json:"rejected"`
	Failed   int    `json:"failed"`
	Built    int    `json:"built,omitempty"`
	Duration string `json:"duration"`
}

func newLoadCmd(configPath *string) *cobra.Command {
	var (
		layout    feed.Layout
		delimiter string
		columns   []string
		latin1    bool
		critical  bool
		build     string
	)

	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Load key/value mappings from a delimited feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []feed.ParserOption{}
			if delimiter != "" {
				r := []rune(delimiter)
				if len(r) != 1 {
					return fmt.Errorf("--delimiter must be one character")
				}
				opts = append(opts, feed.WithDelimiter(r[0]))
			}
			if len(columns) > 0 {
				opts = append(opts, feed.WithColumns(columns...))
			}
			if latin1 {
				opts = append(opts, feed.WithEncoding(charmap.ISO8859_1))
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			layout.Name = filepath.Base(args[0])
			res, err := feed.Read(f, layout, opts...)
			if err != nil {
				return err
			}

			return withApp(cmd, *configPath, func(a *app, cmd *cobra.Command) error {
				for _, rej := range res.Rejected {
					a.log.Warn("Row rejected",
						zap.String("record_id", rej.RecordID),
						zap.String("code", rej.Code),
						zap.String("message", rej.Message))
				}

				in := ingest.Feed{
					Name:       layout.Name,
					Records:    res.Records,
					Critical:   critical,
					Preprocess: ingest.StoreMappings(a.rc),
				}
				if build == "" {
					result, err := ingest.NewProcessor(a.rc).Process(cmd.Context(), in)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), newLoadOutput(result, len(res.Rejected), 0))
				}

				result, built, err := loadAndBuild(cmd.Context(), a, in, build)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), newLoadOutput(result, len(res.Rejected), built))
			})
		},
	}

	cmd.Flags().StringVar(&layout.MappingType, "type", "", "Mapping type, e.g. NAME_TO_PERSON")
	cmd.Flags().StringVar(&layout.KeyColumn, "key-column", "", "Column holding the local key")
	cmd.Flags().StringVar(&layout.ValueColumn, "value-column", "", "Column holding the local value")
	cmd.Flags().StringVar(&layout.ActiveColumn, "active-column", "", "Column marking deleted rows")
	cmd.Flags().StringSliceVar(&layout.InactiveValues, "inactive", []string{"D", "DELETED"}, "Values of --active-column that mark a row deleted")
	cmd.Flags().StringVar(&delimiter, "delimiter", ",", "Field delimiter")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Column names of a feed without a header row")
	cmd.Flags().BoolVar(&latin1, "latin1", false, "Decode the feed as ISO-8859-1")
	cmd.Flags().BoolVar(&critical, "critical", false, "Abort on the first failing row")
	cmd.Flags().StringVar(&build, "build", "", "Also build one resource of this type per value, listing its keys under the mapping type")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("key-column")
	_ = cmd.MarkFlagRequired("value-column")
	return cmd
}

func newLoadOutput(result ingest.FeedResult, rejected, built int) loadOutput {
	return loadOutput{
		Feed:     result.Feed,
		Records:  result.Records,
		Rejected: rejected,
		Failed:   result.Failed,
		Built:    built,
		Duration: result.Duration.String(),
	}
}

// loadAndBuild runs f with a builder cache of resourceType keyed by each record's value.
// Builders are warmed while mappings are stored, filled by the main pass and filed at the end.
func loadAndBuild(ctx context.Context, a *app, f ingest.Feed, resourceType string) (ingest.FeedResult, int, error) {
	builders := run.NewBuilderCache[*resource.Builder](a.rc, resourceType, a.resources,
		func(_ context.Context, entityKey string, globalID uuid.UUID) (*resource.Builder, error) {
			return resource.New(resourceType, entityKey, globalID), nil
		})

	f.Preprocess = ingest.Chain(f.Preprocess, ingest.WarmBuilders(builders, builtValue))
	f.Handle = func(ctx context.Context, rec record.SourceRecord) error {
		key := builtValue(rec)
		if key == "" {
			return nil
		}
		b, err := builders.GetOrCreate(ctx, key)
		if err != nil {
			return err
		}
		for _, kv := range rec.Keys() {
			if err := b.Append(rec.MappingType(), kv.Key); err != nil {
				return err
			}
		}
		return nil
	}

	result, procErr := ingest.NewProcessor(a.rc).Process(ctx, f)
	if procErr != nil && run.IsFatal(procErr) {
		return result, 0, procErr
	}

	report, err := run.FlushBuilders(ctx, a.rc, builders)
	if err != nil {
		return result, len(report.Flushed), errors.Join(procErr, err)
	}
	a.log.Info("Resources filed",
		zap.String("resource_type", resourceType),
		zap.Int("filed", len(report.Flushed)),
		zap.Int("clean", report.Clean))
	return result, len(report.Flushed), procErr
}

// builtValue is the entity key a record contributes to, empty for deletions and rows without a value
func builtValue(rec record.SourceRecord) string {
	if !rec.Active() {
		return ""
	}
	for _, kv := range rec.Keys() {
		if kv.Value != "" {
			return kv.Value
		}
	}
	return ""
}
