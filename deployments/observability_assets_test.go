package deployments

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	text := readAsset(t, "deployments", "observability", "prometheus", "featurestream_rules.yaml")

	requiredAlerts := []string{
		"FeatureStreamPipelineLatencyP95High",
		"FeatureStreamUpstreamErrorsDetected",
		"FeatureStreamTruncatedResponses",
		"FeatureStreamHTTPErrorRateHigh",
	}
	for _, alertName := range requiredAlerts {
		if !strings.Contains(text, "alert: "+alertName) {
			t.Fatalf("rules missing alert %q", alertName)
		}
	}
	for _, severity := range []string{"severity: warning", "severity: critical"} {
		if !strings.Contains(text, severity) {
			t.Fatalf("rules missing %q", severity)
		}
	}
}

func TestPrometheusRecordingRulesContainExpectedRecords(t *testing.T) {
	text := readAsset(t, "deployments", "observability", "prometheus", "featurestream_recording_rules.yaml")

	requiredRecords := []string{
		"featurestream:slo_pipeline_duration_seconds_p95",
		"featurestream:slo_pipeline_upstream_errors_15m",
		"featurestream:slo_pipeline_truncated_15m",
		"featurestream:slo_pipeline_rows_rate_5m",
		"featurestream:slo_http_error_rate_5m",
	}
	for _, recordName := range requiredRecords {
		if !strings.Contains(text, "record: "+recordName) {
			t.Fatalf("recording rules missing record %q", recordName)
		}
	}
}

func TestRecordingRulesReferenceExportedMetrics(t *testing.T) {
	text := readAsset(t, "deployments", "observability", "prometheus", "featurestream_recording_rules.yaml")

	var sources strings.Builder
	for _, name := range []string{"metrics.go", "domain_metrics.go"} {
		sources.WriteString(readAsset(t, "internal", "observability", name))
	}
	defined := sources.String()

	metricPattern := regexp.MustCompile(`featurestream_[a-z_]+`)
	for _, metric := range metricPattern.FindAllString(text, -1) {
		metric = strings.TrimSuffix(metric, "_bucket")
		if !strings.Contains(defined, `"`+metric+`"`) {
			t.Fatalf("recording rules reference undefined metric %q", metric)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	text := readAsset(t, "deployments", "observability", "prometheus", "prometheus-scrape.example.yaml")

	requiredTokens := []string{
		"metrics_path: /v1/metrics",
		"featurestream_rules.yaml",
		"featurestream_recording_rules.yaml",
		"job_name: featurestream-api",
	}
	for _, token := range requiredTokens {
		if !strings.Contains(text, token) {
			t.Fatalf("scrape example missing token %q", token)
		}
	}
}

func readAsset(t *testing.T, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{repoRoot(t)}, parts...)...)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(content)
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
