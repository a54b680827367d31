package provider

import (
	"strings"
)

// BuildQueryURL derives the provider query endpoint from a dataset connector
// URL: any query string on the connector URL is dropped, "/query" is appended
// with the params and f=json, and http is upgraded to https.
func BuildQueryURL(connectorURL string, params Params) string {
	base := serviceBase(connectorURL)
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("/query?")
	if encoded := params.Without("f").Encode(); encoded != "" {
		b.WriteString(encoded)
		b.WriteByte('&')
	}
	b.WriteString("f=json")
	return enforceHTTPS(b.String())
}

// FieldsURL is the layer metadata endpoint for a connector URL.
func FieldsURL(connectorURL string) string {
	return enforceHTTPS(serviceBase(connectorURL) + "?f=json")
}

func serviceBase(connectorURL string) string {
	base := strings.TrimSpace(connectorURL)
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	return strings.TrimRight(base, "/")
}

func enforceHTTPS(raw string) string {
	if len(raw) >= len("http://") && strings.EqualFold(raw[:len("http://")], "http://") {
		return "https://" + raw[len("http://"):]
	}
	return raw
}
