package featurestreamctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type command struct {
	method    string
	path      string
	body      []byte
	streaming bool
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("featurestreamctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "featurestream API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 90*time.Second), "HTTP timeout (e.g. 90s)")
	sql := fs.String("sql", "", "SQL query for query/download")
	format := fs.String("format", "", "output format: json, csv or geojson")
	where := fs.String("where", "", "where clause when querying without sql")
	outFields := fs.String("out-fields", "", "outFields when querying without sql")
	countOnly := fs.Bool("count", false, "request the row count only")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	name := strings.TrimSpace(fs.Arg(0))
	dataset := strings.TrimSpace(fs.Arg(1))
	var cmd command
	switch name {
	case "health":
		cmd = command{method: http.MethodGet, path: "/v1/health"}
	case "ready":
		cmd = command{method: http.MethodGet, path: "/v1/ready"}
	case "query", "download":
		if dataset == "" {
			_, _ = fmt.Fprintf(stderr, "%s requires a dataset id\n", name)
			return 2
		}
		values := url.Values{}
		setIfNotEmpty(values, "sql", *sql)
		setIfNotEmpty(values, "format", *format)
		setIfNotEmpty(values, "where", *where)
		setIfNotEmpty(values, "outFields", *outFields)
		if *countOnly {
			values.Set("returnCountOnly", "true")
		}
		path := "/api/v1/arcgis/" + name + "/" + url.PathEscape(dataset)
		if encoded := values.Encode(); encoded != "" {
			path += "?" + encoded
		}
		cmd = command{method: http.MethodPost, path: path, streaming: true}
	case "fields":
		if dataset == "" {
			_, _ = fmt.Fprintln(stderr, "fields requires a dataset id")
			return 2
		}
		cmd = command{method: http.MethodPost, path: "/api/v1/arcgis/fields/" + url.PathEscape(dataset)}
	case "register":
		connectorURL := strings.TrimSpace(fs.Arg(2))
		if dataset == "" || connectorURL == "" {
			_, _ = fmt.Fprintln(stderr, "register requires a dataset id and a connector url")
			return 2
		}
		body, _ := json.Marshal(map[string]any{
			"connector": map[string]string{"id": dataset, "connector_url": connectorURL},
		})
		cmd = command{method: http.MethodPost, path: "/api/v1/arcgis/rest-datasets/featureservice", body: body}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + cmd.path
	resp, err := doRequest(ctx, client, cmd.method, endpoint, *apiKey, cmd.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		responseBody, _ := io.ReadAll(resp.Body)
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if cmd.streaming {
		if _, err := io.Copy(stdout, resp.Body); err != nil {
			_, _ = fmt.Fprintf(stderr, "read response: %v\n", err)
			return 1
		}
		return 0
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "read response: %v\n", err)
		return 1
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	return client.Do(req)
}

func setIfNotEmpty(values url.Values, key, value string) {
	if strings.TrimSpace(value) != "" {
		values.Set(key, value)
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: featurestreamctl [flags] <command> [dataset]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                    GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                     GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  query <dataset>           POST /api/v1/arcgis/query/{dataset}")
	_, _ = fmt.Fprintln(w, "  download <dataset>        POST /api/v1/arcgis/download/{dataset}")
	_, _ = fmt.Fprintln(w, "  fields <dataset>          POST /api/v1/arcgis/fields/{dataset}")
	_, _ = fmt.Fprintln(w, "  register <dataset> <url>  POST /api/v1/arcgis/rest-datasets/featureservice")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
