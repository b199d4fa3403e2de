// Package places is a thin client for the Google Places API (New), covering
// the two operations the enrichment pipeline needs: text search with an
// optional location bias, and place details for a known place ID.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

const searchFieldMask = "places.id,places.displayName,places.formattedAddress," +
	"places.websiteUri,places.types,places.businessStatus,places.location"

const detailsFieldMask = "id,displayName,formattedAddress,websiteUri,types,businessStatus,location"

// Client performs Places API operations.
type Client interface {
	TextSearch(ctx context.Context, query string, bias *LatLng) ([]Candidate, error)
	Details(ctx context.Context, placeID string) (*Candidate, error)
}

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Candidate is one place as reported by the API.
type Candidate struct {
	PlaceID          string
	Name             string
	FormattedAddress string
	Website          string
	Types            []string
	BusinessStatus   string
	Location         *LatLng
}

// Operational reports whether the API considers the place an active business.
// An empty status is treated as operational: the field is optional on the
// API side and absence is not evidence of closure.
func (c *Candidate) Operational() bool {
	return c.BusinessStatus == "" || c.BusinessStatus == "OPERATIONAL"
}

// HasType reports whether the candidate carries the given place type.
func (c *Candidate) HasType(wanted ...string) bool {
	for _, t := range c.Types {
		for _, w := range wanted {
			if t == w {
				return true
			}
		}
	}
	return false
}

// APIError is a non-2xx response from the Places API. It retains the status
// code so callers can distinguish transient failures from permanent ones.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("places: unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithBiasRadiusMeters sets the circle radius used when a search carries a
// location bias.
func WithBiasRadiusMeters(r float64) Option {
	return func(c *httpClient) {
		c.biasRadius = r
	}
}

type httpClient struct {
	apiKey     string
	baseURL    string
	biasRadius float64
	http       *http.Client
}

// NewClient creates a Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		biasRadius: 25000,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type textSearchRequest struct {
	TextQuery    string        `json:"textQuery"`
	LocationBias *locationBias `json:"locationBias,omitempty"`
}

type locationBias struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type apiPlace struct {
	ID             string      `json:"id"`
	DisplayName    displayName `json:"displayName"`
	Address        string      `json:"formattedAddress"`
	WebsiteURI     string      `json:"websiteUri"`
	Types          []string    `json:"types"`
	BusinessStatus string      `json:"businessStatus"`
	Location       *LatLng     `json:"location"`
}

type displayName struct {
	Text string `json:"text"`
}

type textSearchResponse struct {
	Places []apiPlace `json:"places"`
}

func (c *httpClient) TextSearch(ctx context.Context, query string, bias *LatLng) ([]Candidate, error) {
	payload := textSearchRequest{TextQuery: query}
	if bias != nil {
		payload.LocationBias = &locationBias{Circle: circle{Center: *bias, Radius: c.biasRadius}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "places: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", searchFieldMask)

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result textSearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}

	candidates := make([]Candidate, 0, len(result.Places))
	for _, p := range result.Places {
		candidates = append(candidates, toCandidate(p))
	}
	return candidates, nil
}

func (c *httpClient) Details(ctx context.Context, placeID string) (*Candidate, error) {
	if placeID == "" {
		return nil, eris.New("places: empty place ID")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/places/"+placeID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}

	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", detailsFieldMask)

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var p apiPlace
	if err := json.Unmarshal(respBody, &p); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}

	cand := toCandidate(p)
	return &cand, nil
}

func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "places: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

func toCandidate(p apiPlace) Candidate {
	return Candidate{
		PlaceID:          p.ID,
		Name:             p.DisplayName.Text,
		FormattedAddress: p.Address,
		Website:          p.WebsiteURI,
		Types:            p.Types,
		BusinessStatus:   p.BusinessStatus,
		Location:         p.Location,
	}
}
