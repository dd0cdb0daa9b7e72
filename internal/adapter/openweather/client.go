package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/weather-collector/internal/config"
	"github.com/couchcryptid/weather-collector/internal/domain"
)

const maxErrorBody = 4 << 10

// Client fetches current conditions for one entity from the OpenWeatherMap
// current weather API. It implements fetch.Fetcher.
type Client struct {
	apiKey     string
	baseURL    string
	units      string
	lang       string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a data source client. The transport caps connections per
// host at the fetch concurrency so the upstream never sees more than that.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.FetchConcurrency
	transport.MaxIdleConnsPerHost = cfg.FetchConcurrency

	return &Client{
		apiKey:     cfg.OpenWeatherAPIKey,
		baseURL:    cfg.OpenWeatherBaseURL,
		units:      cfg.OpenWeatherUnits,
		lang:       cfg.OpenWeatherLang,
		timeout:    cfg.FetchTimeout,
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// Fetch requests current conditions for entityKey and maps the response to a
// draft observation. Every error is a *domain.FetchFailure whose detail never
// contains the API key. No retries.
func (c *Client) Fetch(ctx context.Context, entityKey string) (domain.ObservationDraft, error) {
	d, ff := c.fetch(ctx, entityKey)
	if ff != nil {
		if c.apiKey != "" {
			ff.Detail = strings.ReplaceAll(ff.Detail, c.apiKey, "REDACTED")
		}
		return domain.ObservationDraft{}, ff
	}
	return d, nil
}

func (c *Client) fetch(ctx context.Context, entityKey string) (domain.ObservationDraft, *domain.FetchFailure) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{
		"q":     {entityKey},
		"appid": {c.apiKey},
		"units": {c.units},
		"lang":  {c.lang},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return domain.ObservationDraft{}, &domain.FetchFailure{Kind: domain.FailureTransport, Detail: "create request: " + stripURL(err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ObservationDraft{}, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return domain.ObservationDraft{}, &domain.FetchFailure{Kind: domain.FailureUnauthorized, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.ObservationDraft{}, &domain.FetchFailure{
			Kind:   domain.FailureUpstreamError,
			Status: resp.StatusCode,
			Detail: strings.TrimSpace(string(body)),
		}
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if isTimeout(err) {
			return domain.ObservationDraft{}, &domain.FetchFailure{Kind: domain.FailureTimeout, Detail: "reading response body"}
		}
		return domain.ObservationDraft{}, &domain.FetchFailure{Kind: domain.FailureTransport, Detail: fmt.Sprintf("decode response: %v", err)}
	}

	draft, err := payload.toDraft(entityKey)
	if err != nil {
		return domain.ObservationDraft{}, &domain.FetchFailure{Kind: domain.FailureTransport, Detail: err.Error()}
	}
	c.logger.Debug("observation fetched", "entity_key", entityKey, "temperature", draft.Temperature)
	return draft, nil
}

func classifyError(err error) *domain.FetchFailure {
	if isTimeout(err) {
		return &domain.FetchFailure{Kind: domain.FailureTimeout, Detail: stripURL(err)}
	}
	return &domain.FetchFailure{Kind: domain.FailureTransport, Detail: stripURL(err)}
}

// stripURL drops the request URL from a *url.Error; its query carries appid.
func stripURL(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return strings.ToUpper(uerr.Op) + ": " + uerr.Err.Error()
	}
	return err.Error()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// OpenWeatherMap API response types. Numeric fields are decoded as pointers
// so that an omitted field stays distinguishable from a reported zero.

type response struct {
	Main *struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
		Pressure *float64 `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Clouds *struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
}

func (r response) toDraft(entityKey string) (domain.ObservationDraft, error) {
	if r.Main == nil || r.Main.Temp == nil {
		return domain.ObservationDraft{}, errors.New("response missing main.temp")
	}
	if len(r.Weather) == 0 || strings.TrimSpace(r.Weather[0].Description) == "" {
		return domain.ObservationDraft{}, errors.New("response missing weather[0].description")
	}

	d := domain.ObservationDraft{
		EntityKey:   entityKey,
		Temperature: domain.RoundTenth(*r.Main.Temp),
		Humidity:    roundInt(r.Main.Humidity),
		Pressure:    roundInt(r.Main.Pressure),
		Description: r.Weather[0].Description,
	}
	if r.Wind != nil && r.Wind.Speed != nil {
		d.WindSpeed = domain.FloatPtr(*r.Wind.Speed)
	}
	if r.Clouds != nil {
		d.Clouds = roundInt(r.Clouds.All)
	}
	return d, nil
}

func roundInt(v *float64) *int {
	if v == nil {
		return nil
	}
	return domain.IntPtr(int(math.Round(*v)))
}
