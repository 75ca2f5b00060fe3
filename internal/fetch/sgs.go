// Package fetch provides the HTTP client for the rate authority's
// time-series API.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/solar-finance-core/internal/model"
)

// ErrDataSourceUnavailable marks network failures, timeouts and non-2xx
// responses from the rate authority. Callers decide whether a stale
// cache entry may stand in.
var ErrDataSourceUnavailable = errors.New("rate authority unavailable")

// SeriesClient fetches one named time series from the rate authority.
type SeriesClient interface {
	FetchSeries(ctx context.Context, code string, lastNDays int) ([]model.RateSeriesPoint, error)
}

// dateLayout is the wire format on both the query string and the payload
const dateLayout = "02/01/2006"

// SGSClient talks to an SGS-style series endpoint:
// GET {base}/{code}/dados?formato=json&dataInicial=DD/MM/YYYY&dataFinal=DD/MM/YYYY
type SGSClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration

	// now is swappable in tests
	now func() time.Time
}

// NewSGSClient creates a client with retry capabilities and an explicit
// per-request timeout.
func NewSGSClient(baseURL string, timeout time.Duration) *SGSClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 3 * time.Second
	retryClient.Logger = nil

	return &SGSClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: retryClient.StandardClient(),
		timeout:    timeout,
		now:        time.Now,
	}
}

// FetchSeries issues one GET for the series code over the trailing
// lastNDays window and returns the observations in ascending date order.
func (c *SGSClient) FetchSeries(ctx context.Context, code string, lastNDays int) ([]model.RateSeriesPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	end := c.now()
	start := end.AddDate(0, 0, -lastNDays)

	q := url.Values{}
	q.Set("formato", "json")
	q.Set("dataInicial", start.Format(dateLayout))
	q.Set("dataFinal", end.Format(dateLayout))
	endpoint := fmt.Sprintf("%s/%s/dados?%s", c.baseURL, code, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	logrus.Debugf("Fetching series %s from rate authority", code)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: series %s: %v", ErrDataSourceUnavailable, code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: series %s: status %d, body: %s",
			ErrDataSourceUnavailable, code, resp.StatusCode, string(body))
	}

	var payload []struct {
		Data  string `json:"data"`
		Valor string `json:"valor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: series %s: decoding response: %v", ErrDataSourceUnavailable, code, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: series %s: empty response", ErrDataSourceUnavailable, code)
	}

	points := make([]model.RateSeriesPoint, 0, len(payload))
	for _, row := range payload {
		date, err := time.Parse(dateLayout, row.Data)
		if err != nil {
			logrus.WithFields(logrus.Fields{"series": code, "date": row.Data}).
				Warn("Skipping observation with malformed date")
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(row.Valor), 64)
		if err != nil {
			logrus.WithFields(logrus.Fields{"series": code, "value": row.Valor}).
				Warn("Skipping observation with malformed value")
			continue
		}
		points = append(points, model.RateSeriesPoint{Date: date, Value: value})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: series %s: no parseable observations", ErrDataSourceUnavailable, code)
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	logrus.Debugf("Received %d observations for series %s", len(points), code)
	return points, nil
}
