// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jcodagnone/rspogeo/utils/pace"
)

// DefaultPhotonEndpoint is the public Photon instance run by Komoot.
const DefaultPhotonEndpoint = "https://photon.komoot.io/api/"

const maxResponseBytes = 8 << 20

// PhotonOptions configures PhotonClient.
type PhotonOptions struct {
	// Endpoint is the search URL, queried as GET <endpoint>?q=<query>
	Endpoint string

	// Lang is passed as the lang parameter when set
	Lang string

	// Limit caps the number of features returned, 0 leaves the server default
	Limit int

	// MinDelay is the pause between the end of a call and the start of the next
	MinDelay time.Duration

	// MaxDelay, when greater than MinDelay, randomizes the pause in [MinDelay, MaxDelay]
	MaxDelay time.Duration
}

// PhotonClient queries a Photon geocoder, one call at a time.
type PhotonClient struct {
	endpoint *url.URL
	client   *http.Client
	pacer    *pace.Pacer
	lang     string
	limit    int

	// Calls counts outbound requests.
	Calls int
}

// NewPhotonClient creates a Photon client using the provided http client.
func NewPhotonClient(options *PhotonOptions, client *http.Client) (*PhotonClient, error) {
	if options == nil {
		options = &PhotonOptions{}
	}

	endpoint := options.Endpoint
	if endpoint == "" {
		endpoint = DefaultPhotonEndpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q must be an http(s) URL", endpoint)
	}

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &PhotonClient{
		endpoint: u,
		client:   client,
		pacer:    pace.New(options.MinDelay, options.MaxDelay),
		lang:     options.Lang,
		limit:    options.Limit,
	}, nil
}

func (c *PhotonClient) requestURL(query string) string {
	u := *c.endpoint
	params := u.Query()
	params.Set("q", query)

	if c.lang != "" {
		params.Set("lang", c.lang)
	}

	if c.limit > 0 {
		params.Set("limit", strconv.Itoa(c.limit))
	}

	u.RawQuery = params.Encode()

	return u.String()
}

// Resolve performs exactly one request. Failures are *GeocodingError values:
// transport problems and non-2xx answers are transient, undecodable bodies are
// malformed. Nothing is retried here.
func (c *PhotonClient) Resolve(ctx context.Context, query string) (*Response, error) {
	var ret *Response

	err := c.pacer.Do(ctx, func() error {
		var err error

		ret, err = c.do(ctx, query)

		return err
	})
	if err != nil {
		return nil, err
	}

	return ret, nil
}

func (c *PhotonClient) do(ctx context.Context, query string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(query), nil)
	if err != nil {
		return nil, &GeocodingError{Type: ErrorTypeInvalidRequest, Message: "building request", Err: err}
	}

	req.Header.Set("Accept", "application/json")

	c.Calls++

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Printf("WARN closing geocoder response: %v", cerr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ClassifyHTTPError(resp.StatusCode, abbreviateBody(body))
	}

	if trimmed := strings.TrimSpace(string(body)); trimmed == "" || trimmed == "null" {
		return nil, malformed("empty response body")
	}

	candidates, err := DecodeCandidates(body)
	if err != nil {
		return nil, err
	}

	return &Response{Candidates: candidates, Raw: json.RawMessage(body)}, nil
}

func abbreviateBody(body []byte) string {
	const maxChars = 200

	s := strings.TrimSpace(string(body))
	if len(s) > maxChars {
		s = s[:maxChars] + "…"
	}

	return s
}
