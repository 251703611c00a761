// Package instrumentation provides OpenTelemetry metrics and tracing for adminguard.
//
// Instrumentation is optional. When Config.Enabled is false the package uses
// no-op providers and every Record* call is effectively free. A nil *Metrics
// is also accepted by every Record* method, so components can be built
// without instrumentation at all.
//
// # Prometheus
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		ServiceName:     "adminguard",
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	http.Handle("/metrics", promhttp.Handler())
//
// # Metrics
//
//   - adminguard.http.requests.total{method, endpoint, status}
//   - adminguard.http.request.duration{endpoint}
//   - adminguard.auth.login.attempts{result}
//   - adminguard.auth.token.refreshed{result}
//   - adminguard.auth.token.reuse_detected
//   - adminguard.auth.token.revoked{reason}
//   - adminguard.security.rate_limit.exceeded{limit_type}
//   - adminguard.security.blacklist.hits
//   - adminguard.security.suspicious_requests{category}
//   - adminguard.security.csrf.failures
//   - adminguard.security.local_limiters
//   - adminguard.audit.events.total{event_type, severity}
//   - adminguard.audit.flushes{result}
//   - adminguard.audit.batch.size
//   - adminguard.audit.pending
//   - adminguard.storage.operations.total{operation, result}
//   - adminguard.storage.operation.duration{operation}
package instrumentation
