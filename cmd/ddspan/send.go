// The send and encode commands: read exported spans and deliver or print the Datadog payload
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/andrewh/ddspan/pkg/ddtrace"
	"github.com/andrewh/ddspan/pkg/spanimport"
)

const (
	strategySignal    = "signal"
	strategyThreshold = "threshold"
)

func sendCmd(g *globalOptions) *cobra.Command {
	var (
		format   string
		strategy string
	)

	cmd := &cobra.Command{
		Use:   "send [file]",
		Short: "Send exported spans to the Datadog trace intake",
		Long: "Reads spans (stdouttrace or OTLP JSON) from a file or stdin, buffers them with the\n" +
			"chosen flush strategy and delivers them to the intake.\n\n" +
			"Strategies:\n" +
			"  signal     one background export after a single flush signal\n" +
			"  threshold  repeated exports of at most --flush-threshold spans",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strategy != strategySignal && strategy != strategyThreshold {
				return fmt.Errorf("unknown strategy %q, valid strategies: signal, threshold", strategy)
			}
			cfg, err := loadExporterConfig(cmd, g.configFile)
			if err != nil {
				return err
			}
			parsed, err := readSpans(cmd.InOrStdin(), args, format)
			if err != nil {
				return err
			}
			if cfg.ServiceName == "" {
				cfg.ServiceName = parsed.ServiceName
			}
			cfg.Transport = ddtrace.NewRestyTransport(cfg.ExportTimeout)

			exp, err := ddtrace.NewExporter(cfg, ddtrace.WithLogger(g.logger))
			if err != nil {
				return err
			}
			defer func() { _ = exp.Shutdown(context.Background()) }()

			summary, err := sendSpans(cmd.Context(), exp, parsed.Spans, strategy, g.logger)
			if err != nil {
				return err
			}

			url, _ := exp.Config().TracesURL()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent %d spans (%d traces) to %s using the %s strategy\n",
				summary.exported, summary.traces, url, strategy)
			if summary.dropped > 0 {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %d spans were dropped\n", summary.dropped)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "auto", "input format: auto, stdouttrace, or otlp")
	cmd.Flags().StringVar(&strategy, "strategy", strategyThreshold, "flush strategy: signal or threshold")
	addExporterFlags(cmd)

	return cmd
}

type sendSummary struct {
	exported int
	dropped  int
	traces   int
}

func sendSpans(ctx context.Context, exp *ddtrace.Exporter, spans []ddtrace.SpanRecord, strategy string, logger *zap.Logger) (sendSummary, error) {
	cfg := exp.Config()
	opts := []ddtrace.Option{ddtrace.WithLogger(logger), ddtrace.WithExportTimeout(cfg.ExportTimeout)}
	summary := sendSummary{traces: len(ddtrace.GroupByTrace(spans))}

	switch strategy {
	case strategySignal:
		buf := ddtrace.NewSignalBuffer(exp, cfg.BufferCapacity, opts...)
		accepted := acceptAll(buf, spans, logger, &summary)
		if err := buf.Shutdown(ctx); err != nil {
			return summary, fmt.Errorf("exporting %d spans: %w", accepted, err)
		}
		summary.exported = accepted

	case strategyThreshold:
		buf := ddtrace.NewThresholdBuffer(exp, cfg.FlushThreshold, opts...)
		acceptAll(buf, spans, logger, &summary)
		for {
			out, err := buf.Flush(ctx)
			summary.exported += out.Exported
			summary.dropped += out.Dropped
			if err != nil {
				return summary, fmt.Errorf("exporting batch: %w", err)
			}
			if out.Remaining == 0 {
				break
			}
		}
		if err := buf.Shutdown(ctx); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

func acceptAll(buf ddtrace.Buffer, spans []ddtrace.SpanRecord, logger *zap.Logger, summary *sendSummary) int {
	accepted := 0
	for _, s := range spans {
		if err := buf.Accept(s); err != nil {
			summary.dropped++
			logger.Debug("span rejected by buffer", zap.Stringer("span_id", s.SpanID), zap.Error(err))
			continue
		}
		accepted++
	}
	return accepted
}

func encodeCmd(g *globalOptions) *cobra.Command {
	var (
		format    string
		output    string
		runtimeID string
	)

	cmd := &cobra.Command{
		Use:   "encode [file]",
		Short: "Print the Datadog payload for exported spans without sending it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadExporterConfig(cmd, g.configFile)
			if err != nil {
				return err
			}
			parsed, err := readSpans(cmd.InOrStdin(), args, format)
			if err != nil {
				return err
			}
			if cfg.ServiceName == "" {
				cfg.ServiceName = parsed.ServiceName
			}
			cfg.RuntimeID = runtimeID
			cfg = cfg.WithDefaults()

			payload := ddtrace.NewEncoder(cfg).Payload(ddtrace.GroupByTrace(parsed.Spans))

			var out []byte
			switch output {
			case "json":
				out, err = protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(payload)
				out = append(out, '\n')
			case "binary":
				out, err = ddtrace.Marshal(payload)
			default:
				return fmt.Errorf("unknown output %q, valid outputs: json, binary", output)
			}
			if err != nil {
				return fmt.Errorf("encoding payload: %w", err)
			}
			g.logger.Debug("encoded payload", zap.Int("spans", len(parsed.Spans)), zap.Int("bytes", len(out)))
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "auto", "input format: auto, stdouttrace, or otlp")
	cmd.Flags().StringVar(&output, "output", "json", "output: json or binary")
	cmd.Flags().StringVar(&runtimeID, "runtime-id", "", "runtime id to stamp on the payload (default random)")
	addExporterFlags(cmd)

	return cmd
}

func readSpans(stdin io.Reader, args []string, format string) (*spanimport.Result, error) {
	r := stdin
	if len(args) == 1 {
		f, err := os.Open(args[0]) //nolint:gosec // user-supplied file path is expected
		if err != nil {
			return nil, fmt.Errorf("opening input: %w", err)
		}
		defer f.Close() //nolint:errcheck // best-effort close on read-only file
		r = f
	}
	return spanimport.ParseSpans(r, spanimport.Format(format))
}
