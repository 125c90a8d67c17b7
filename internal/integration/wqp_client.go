// Package integration handles external service interactions
package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gulfwater/gulfwq/internal/entities"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// GulfBoundingBox covers the Gulf of Mexico region queried for measurements.
const GulfBoundingBox = "-98.5,17.8,-80,31"

// DefaultStartDate is the default lower bound for measurement queries,
// in the MM-DD-YYYY form the Water Quality Portal expects.
const DefaultStartDate = "01-01-1980"

// WQPClient provides access to the Water Quality Portal REST API.
type WQPClient struct {
	resultURL string
	codesURL  string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewWQPClient creates a new Water Quality Portal client. Requests are rate
// limited so that bulk fetches stay polite to the upstream service.
func NewWQPClient(baseURL string, rps float64) *WQPClient {
	if baseURL == "" {
		// Default production endpoint
		baseURL = "https://www.waterqualitydata.us"
	}
	if rps <= 0 {
		rps = 2
	}
	return &WQPClient{
		resultURL: baseURL + "/data/Result/search",
		codesURL:  baseURL + "/Codes/Characteristicname",
		client:    &http.Client{Timeout: 120 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// FetchResultCSV retrieves raw measurement data for a characteristic within
// the Gulf bounding box. The caller owns the returned body and must close it.
func (c *WQPClient) FetchResultCSV(ctx context.Context, characteristicName, startDateLo string) (io.ReadCloser, error) {
	if startDateLo == "" {
		startDateLo = DefaultStartDate
	}

	params := url.Values{}
	params.Set("characteristicName", characteristicName)
	params.Set("bBox", GulfBoundingBox)
	params.Set("startDateLo", startDateLo)
	params.Set("mimeType", "csv")

	fullURL := c.resultURL + "?" + params.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait canceled: %w", err)
	}

	log.Printf("Fetching WQP results for characteristic %q since %s", characteristicName, startDateLo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build WQP request: %v", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch WQP results: %v", err)
	}

	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		log.Printf("Received unexpected status code from WQP: %d %s", res.StatusCode, res.Status)
		return nil, fmt.Errorf("unexpected status code from WQP: %d %s", res.StatusCode, res.Status)
	}

	return res.Body, nil
}

// FetchCharacteristicNames downloads the characteristic name vocabulary from
// the WQP codes endpoint.
func (c *WQPClient) FetchCharacteristicNames(ctx context.Context) ([]entities.Characteristic, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait canceled: %w", err)
	}

	log.Printf("Fetching characteristic name vocabulary from WQP")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.codesURL+"?mimeType=json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build codes request: %v", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch characteristic codes: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		log.Printf("Received unexpected status code for codes: %d %s", res.StatusCode, res.Status)
		return nil, fmt.Errorf("unexpected status code for codes: %d %s", res.StatusCode, res.Status)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read codes response: %v", err)
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("codes response is not valid JSON")
	}

	parsed := gjson.ParseBytes(body)
	codes := parsed.Get("codes")
	if !codes.Exists() {
		return nil, fmt.Errorf("codes response has no 'codes' field")
	}

	var result []entities.Characteristic
	codes.ForEach(func(_, code gjson.Result) bool {
		value := code.Get("value").String()
		if value == "" {
			return true
		}
		result = append(result, entities.Characteristic{
			Name:      value,
			Providers: code.Get("providers").String(),
			Valid:     true,
		})
		return true
	})

	recordCount := parsed.Get("recordCount").Int()
	log.Printf("Parsed %d characteristic names (record count reported: %d)", len(result), recordCount)

	if len(result) == 0 {
		return nil, fmt.Errorf("codes response contained no characteristic names")
	}

	return result, nil
}
