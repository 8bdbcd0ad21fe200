// Package clickhouse provides the columnar storage layer for events and
// identity mappings.
//
// Purpose:
//
//	A thin client over the ClickHouse HTTP interface, the batch inserter
//	used by the writer, the identity-map upsert, and the analytics queries
//	behind the admin stats endpoints. Statements are sent verbatim over
//	HTTP and result sets are exchanged as JSONEachRow lines.
package clickhouse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds connection settings for a ClickHouse instance.
type Config struct {
	URL      string
	Database string
	User     string
	Password string
}

// Client speaks the ClickHouse HTTP interface.
type Client struct {
	httpClient *http.Client
	queryURL   string
	pingURL    string
	user       string
	password   string
}

// NewClient builds a client for the given instance.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.URL, "/")

	params := url.Values{}
	if cfg.Database != "" {
		params.Set("database", cfg.Database)
	}
	// 64-bit integers come back as JSON numbers, not strings.
	params.Set("output_format_json_quote_64bit_integers", "0")

	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		queryURL:   base + "/?" + params.Encode(),
		pingURL:    base + "/ping",
		user:       cfg.User,
		password:   cfg.Password,
	}
}

// Do posts a full statement and returns the raw response body.
func (c *Client) Do(ctx context.Context, statement string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queryURL, strings.NewReader(statement))
	if err != nil {
		return nil, fmt.Errorf("build clickhouse request: %w", err)
	}
	if c.user != "" {
		req.Header.Set("X-ClickHouse-User", c.user)
		req.Header.Set("X-ClickHouse-Key", c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clickhouse request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read clickhouse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clickhouse returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// Exec posts a statement and discards the response body.
func (c *Client) Exec(ctx context.Context, statement string) error {
	_, err := c.Do(ctx, statement)
	return err
}

// Ping verifies the instance is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pingURL, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse ping: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.HasPrefix(body, []byte("Ok.")) {
		return fmt.Errorf("clickhouse ping returned %d", resp.StatusCode)
	}
	return nil
}

// escapeString escapes backslashes and single quotes for inclusion in a
// ClickHouse string literal.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}

// formatTimestamp renders t for DateTime64(3) columns.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000")
}

// timestampLiteral renders t as a DateTime64(3) SQL literal.
func timestampLiteral(t time.Time) string {
	seconds := strconv.FormatFloat(float64(t.UnixMilli())/1000.0, 'f', 3, 64)
	return fmt.Sprintf("toDateTime64(%s, 3)", seconds)
}
