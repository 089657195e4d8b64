package ingest

import (
	"context"
	"database/sql"
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
	SourceOpenMeteo         = "open-meteo"
	DefaultOpenMeteoBaseURL = "https://archive-api.open-meteo.com/v1/archive"
)

var openMeteoDaily = []string{
	"temperature_2m_mean",
	"temperature_2m_min",
	"temperature_2m_max",
	"precipitation_sum",
	"snowfall_sum",
	"wind_speed_10m_max",
	"wind_gusts_10m_max",
	"surface_pressure_mean",
}

// WeatherClient fetches daily weather history for a coordinate from the
// Open-Meteo archive.
type WeatherClient struct {
	baseURL string
	fetch   *fetcher
}

func NewWeatherClient(baseURL string, client *http.Client, log *zap.SugaredLogger) *WeatherClient {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoBaseURL
	}
	return &WeatherClient{baseURL: baseURL, fetch: newFetcher(SourceOpenMeteo, client, log)}
}

type openMeteoResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
	Daily  struct {
		Time     []string   `json:"time"`
		TMean    []*float64 `json:"temperature_2m_mean"`
		TMin     []*float64 `json:"temperature_2m_min"`
		TMax     []*float64 `json:"temperature_2m_max"`
		Precip   []*float64 `json:"precipitation_sum"`
		Snow     []*float64 `json:"snowfall_sum"`
		Wind     []*float64 `json:"wind_speed_10m_max"`
		Gust     []*float64 `json:"wind_gusts_10m_max"`
		Pressure []*float64 `json:"surface_pressure_mean"`
	} `json:"daily"`
}

// FetchDaily returns weather for every day in [start, end].
func (c *WeatherClient) FetchDaily(ctx context.Context, lat, lon float64, start, end time.Time) ([]models.DailyWeather, []byte, *FetchResult, error) {
	values := url.Values{}
	values.Set("latitude", fmt.Sprintf("%.4f", lat))
	values.Set("longitude", fmt.Sprintf("%.4f", lon))
	values.Set("start_date", start.Format(time.DateOnly))
	values.Set("end_date", end.Format(time.DateOnly))
	values.Set("daily", strings.Join(openMeteoDaily, ","))
	values.Set("timezone", "auto")

	body, result, err := c.fetch.get(ctx, c.baseURL+"?"+values.Encode())
	if err != nil {
		return nil, nil, result, err
	}
	days, parseErrors, err := ParseOpenMeteoDaily(body)
	result.ParseErrors = parseErrors
	if err != nil {
		return nil, body, result, err
	}
	result.RecordCount = len(days)
	return days, body, result, nil
}

// ParseOpenMeteoDaily decodes an archive response. Days with an unparseable
// date are skipped and counted.
func ParseOpenMeteoDaily(body []byte) ([]models.DailyWeather, int, error) {
	var resp openMeteoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("unmarshal weather: %w", err)
	}
	if resp.Error {
		return nil, 0, fmt.Errorf("%w: open-meteo: %s", ErrUpstream, resp.Reason)
	}

	d := resp.Daily
	at := func(vals []*float64, i int) sql.NullFloat64 {
		if i >= len(vals) || vals[i] == nil {
			return sql.NullFloat64{}
		}
		return sql.NullFloat64{Float64: *vals[i], Valid: true}
	}

	var days []models.DailyWeather
	parseErrors := 0
	for i, s := range d.Time {
		date, err := time.Parse(time.DateOnly, s)
		if err != nil {
			parseErrors++
			continue
		}
		days = append(days, models.DailyWeather{
			Date: date,
			Tavg: at(d.TMean, i),
			Tmin: at(d.TMin, i),
			Tmax: at(d.TMax, i),
			Prcp: at(d.Precip, i),
			Snow: at(d.Snow, i),
			Wspd: at(d.Wind, i),
			Wpgt: at(d.Gust, i),
			Pres: at(d.Pressure, i),
		})
	}
	return days, parseErrors, nil
}
