package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lox/aqicast/internal/models"
)

const (
	SourceWAQI         = "waqi"
	DefaultWAQIBaseURL = "https://api.waqi.info"
)

// FeedClient reads the current individual indices for one WAQI station.
type FeedClient struct {
	baseURL string
	token   string
	fetch   *fetcher
}

func NewFeedClient(baseURL, token string, client *http.Client, log *zap.SugaredLogger) *FeedClient {
	if baseURL == "" {
		baseURL = DefaultWAQIBaseURL
	}
	return &FeedClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		fetch:   newFetcher(SourceWAQI, client, log),
	}
}

type feedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type feedData struct {
	City struct {
		Name string    `json:"name"`
		Geo  []float64 `json:"geo"`
	} `json:"city"`
	IAQI map[string]struct {
		V float64 `json:"v"`
	} `json:"iaqi"`
	Time struct {
		ISO string `json:"iso"`
		S   string `json:"s"`
		TZ  string `json:"tz"`
	} `json:"time"`
}

// FetchCurrent returns the latest reading for stationID along with the raw
// response body.
func (c *FeedClient) FetchCurrent(ctx context.Context, stationID string) (*models.Reading, []byte, *FetchResult, error) {
	u := fmt.Sprintf("%s/feed/%s/?token=%s", c.baseURL, strings.Trim(stationID, "/"), url.QueryEscape(c.token))
	body, result, err := c.fetch.get(ctx, u)
	if err != nil {
		return nil, nil, result, err
	}
	r, err := ParseFeed(body, stationID)
	if err != nil {
		result.ParseErrors = 1
		return nil, body, result, err
	}
	result.RecordCount = 1
	return r, body, result, nil
}

// ParseFeed decodes a WAQI feed response into a reading.
func ParseFeed(body []byte, stationID string) (*models.Reading, error) {
	var resp feedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal feed: %w", err)
	}
	if resp.Status != "ok" {
		var msg string
		_ = json.Unmarshal(resp.Data, &msg)
		return nil, fmt.Errorf("%w: feed status %q: %s", ErrUpstream, resp.Status, msg)
	}
	var data feedData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("unmarshal feed data: %w", err)
	}

	observedAt, err := time.Parse(time.RFC3339, data.Time.ISO)
	if err != nil {
		return nil, fmt.Errorf("parse feed time %q: %w", data.Time.ISO, err)
	}

	r := &models.Reading{
		StationID:  stationID,
		ObservedAt: observedAt.UTC(),
		Source:     SourceWAQI,
		RawJSON:    string(body),
	}
	known := 0
	for name, v := range data.IAQI {
		if r.Set(name, v.V) {
			known++
		}
	}
	if known == 0 {
		return nil, fmt.Errorf("feed for %s has no known indices", stationID)
	}
	r.QualityFlags = QualityFlagsToJSON(ValidateReading(r))
	return r, nil
}
