// The headers command: extract and inject x-datadog-* propagation headers
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewh/ddspan/pkg/ddid"
	"github.com/andrewh/ddspan/pkg/propagator"
)

func headersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "headers",
		Short: "Decode or build x-datadog-* propagation headers",
	}
	cmd.AddCommand(headersExtractCmd())
	cmd.AddCommand(headersInjectCmd())
	return cmd
}

func headersExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <name=value>...",
		Short: "Show the trace context carried by a set of headers",
		Long: "Show the trace context carried by a set of headers.\n\n" +
			"Header names are matched case-insensitively. Values that cannot be used\n" +
			"are reported as warnings; the context shown is what a service would see.",
		RunE: func(cmd *cobra.Command, args []string) error {
			carrier := propagation.MapCarrier{}
			for _, arg := range args {
				name, value, ok := strings.Cut(arg, "=")
				if !ok {
					name, value, ok = strings.Cut(arg, ":")
				}
				if !ok || name == "" {
					return fmt.Errorf("invalid header %q, expected name=value", arg)
				}
				carrier.Set(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			tc, err := propagator.Parse(carrier)
			if err != nil {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			}

			w := cmd.OutOrStdout()
			if !tc.IsValid() {
				_, _ = fmt.Fprintln(w, "valid:    false")
				return nil
			}
			_, _ = fmt.Fprintf(w, "valid:    true\n")
			_, _ = fmt.Fprintf(w, "trace-id: %s (%d)\n", tc.TraceID, ddid.Lower(tc.TraceID))
			if tc.SpanID.IsValid() {
				_, _ = fmt.Fprintf(w, "span-id:  %s (%d)\n", tc.SpanID, ddid.SpanID(tc.SpanID))
			} else {
				_, _ = fmt.Fprintln(w, "span-id:  invalid")
			}
			_, _ = fmt.Fprintf(w, "sampled:  %t\n", tc.IsSampled())
			_, _ = fmt.Fprintf(w, "deferred: %t\n", tc.IsDeferred())
			return nil
		},
	}
}

func headersInjectCmd() *cobra.Command {
	var (
		traceID  uint64
		spanID   uint64
		sampled  bool
		deferred bool
	)

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Print the headers that carry a trace context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sampled && deferred {
				return fmt.Errorf("--sampled and --deferred are mutually exclusive")
			}
			tc := propagator.TraceContext{
				TraceID: ddid.Widen(traceID),
				SpanID:  ddid.FromSpanID(spanID),
			}
			switch {
			case deferred:
				tc.Flags = propagator.FlagsDeferred
			case sampled:
				tc.Flags = trace.FlagsSampled
			}

			carrier := propagation.MapCarrier{}
			propagator.Inject(tc, carrier)
			if len(carrier) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No headers written: a context needs a non-zero trace id and span id")
				return nil
			}
			for _, name := range propagator.Fields() {
				if v, ok := carrier[name]; ok {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, v)
				}
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&traceID, "trace-id", 0, "trace id as a decimal 64-bit integer")
	cmd.Flags().Uint64Var(&spanID, "span-id", 0, "span id as a decimal 64-bit integer")
	cmd.Flags().BoolVar(&sampled, "sampled", false, "mark the trace as sampled")
	cmd.Flags().BoolVar(&deferred, "deferred", false, "leave the sampling decision to the receiver")

	return cmd
}
