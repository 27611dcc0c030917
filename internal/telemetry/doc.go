// Package telemetry sets up OpenTelemetry tracing and metrics export for
// pipelined.
//
// Reconciliation passes record an executor.run span and the
// pipelined.executor.pass_duration histogram; the HTTP layer records
// request counters on the global meter. New installs OTLP providers as the
// globals when export is enabled:
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  insecure: true          # only allowed for loopback endpoints
//	  sample_rate: 0.25
//
// A provider that fails to build leaves the instance degraded; the global
// no-op providers stay in place and passes run unaffected.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	tt.Install(t)
//	// ... run code that uses otel.Tracer / otel.Meter ...
//	tt.AssertSpanExists(t, "executor.run")
package telemetry
