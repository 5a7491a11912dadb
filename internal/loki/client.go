// Package loki fetches raw combat log lines from a Grafana Loki instance.
package loki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	queryRangePath   = "/loki/api/v1/query_range"
	defaultPageLimit = 5000
	defaultHardLimit = 5000
	defaultTimeout   = 30 * time.Second
)

// Entry is one deduplicated, normalized log line returned by QueryRange.
type Entry struct {
	TimestampNs int64
	Timestamp   time.Time
	Normalized  string
	Labels      map[string]string
}

// Config holds Loki connection and query settings.
type Config struct {
	BaseURL string
	// Query is the base LogQL selector.
	Query string
	// Filter, when set, is appended to the query as a regex line filter.
	Filter string
	// PageLimit caps the number of lines requested per page.
	PageLimit int
	// HardLimit bounds PageLimit regardless of configuration.
	HardLimit int
	// RequestTimeout caps each HTTP request.
	RequestTimeout time.Duration
}

// Client queries Loki for log lines within a time range.
type Client struct {
	baseURL    *url.URL
	query      string
	pageLimit  int
	httpClient *http.Client
}

// NewClient validates cfg and builds a Loki query client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("loki base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse loki base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("loki base url %q must be absolute", base)
	}

	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = defaultPageLimit
	}
	hardLimit := cfg.HardLimit
	if hardLimit <= 0 {
		hardLimit = defaultHardLimit
	}
	if pageLimit > hardLimit {
		pageLimit = hardLimit
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    parsed,
		query:      buildQuery(cfg.Query, cfg.Filter),
		pageLimit:  pageLimit,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// QueryRange returns all log lines in [start, end], deduplicated by
// (label set, timestamp, normalized text) and sorted ascending by timestamp.
// It pages forward internally using the last seen timestamp plus one
// nanosecond until Loki returns a short page.
func (c *Client) QueryRange(ctx context.Context, start, end time.Time) ([]Entry, error) {
	if c == nil {
		return nil, fmt.Errorf("loki client is not configured")
	}

	var entries []Entry
	seen := make(map[string]struct{})
	cursorNs := start.UnixNano()
	endNs := end.UnixNano()

	for cursorNs <= endNs {
		page, err := c.fetchPage(ctx, cursorNs, endNs)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		lastNs := cursorNs
		for _, entry := range page {
			if entry.TimestampNs > lastNs {
				lastNs = entry.TimestampNs
			}
			key := dedupKey(entry)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			entries = append(entries, entry)
		}

		if len(page) < c.pageLimit {
			break
		}
		cursorNs = lastNs + 1
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TimestampNs < entries[j].TimestampNs
	})
	return entries, nil
}

func (c *Client) fetchPage(ctx context.Context, startNs, endNs int64) ([]Entry, error) {
	reqURL := c.baseURL.JoinPath(queryRangePath)
	params := url.Values{}
	params.Set("query", c.query)
	params.Set("start", strconv.FormatInt(startNs, 10))
	params.Set("end", strconv.FormatInt(endNs, 10))
	params.Set("direction", "FORWARD")
	params.Set("limit", strconv.Itoa(c.pageLimit))
	reqURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build loki request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query loki: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("loki query failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload queryRangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode loki response: %w", err)
	}

	var entries []Entry
	for _, stream := range payload.Data.Result {
		for _, value := range stream.Values {
			if len(value) < 2 {
				continue
			}
			ns, err := strconv.ParseInt(value[0], 10, 64)
			if err != nil {
				continue
			}
			entries = append(entries, Entry{
				TimestampNs: ns,
				Timestamp:   time.Unix(0, ns).UTC(),
				Normalized:  normalizeLine(value[1]),
				Labels:      stream.Stream,
			})
		}
	}
	return entries, nil
}

type queryRangeResponse struct {
	Data struct {
		Result []struct {
			Stream map[string]string `json:"stream"`
			Values [][]string        `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// buildQuery appends the optional line filter to the base LogQL selector.
func buildQuery(base, filter string) string {
	query := strings.TrimSpace(base)
	trimmedFilter := strings.TrimSpace(filter)
	if trimmedFilter == "" {
		return query
	}
	escaped := strings.ReplaceAll(trimmedFilter, `"`, `\"`)
	return fmt.Sprintf(`%s |~ "%s"`, query, escaped)
}

// normalizeLine strips the promtail wrapping some collectors add around the
// raw network-log line: a line= prefix, surrounding quotes, and a second
// line= prefix inside the quotes.
func normalizeLine(input string) string {
	line := strings.TrimPrefix(input, "line=")
	if len(line) >= 2 && strings.HasPrefix(line, `"`) && strings.HasSuffix(line, `"`) {
		line = line[1 : len(line)-1]
	}
	return strings.TrimPrefix(line, "line=")
}

func dedupKey(entry Entry) string {
	labels := make([]string, 0, len(entry.Labels))
	for k, v := range entry.Labels {
		labels = append(labels, k+"="+v)
	}
	sort.Strings(labels)
	return strings.Join(labels, ",") + "|" + strconv.FormatInt(entry.TimestampNs, 10) + "|" + entry.Normalized
}
