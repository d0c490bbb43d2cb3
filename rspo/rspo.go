// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

// Package rspo reads school coordinates published on the RSPO registry pages.
package rspo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jcodagnone/rspogeo/spatial"
	"github.com/jcodagnone/rspogeo/utils/htmlutils"
	"github.com/jcodagnone/rspogeo/utils/pace"
	"golang.org/x/net/html"
)

// DefaultBaseURL is the public registry.
const DefaultBaseURL = "https://rspo.gov.pl"

// ErrNoLocation is returned when a registry page has no map point.
var ErrNoLocation = errors.New("no location on registry page")

var (
	mapPointRegex = regexp.MustCompile(`var\s+map_point\s*=\s*\{([^}]*)\}`)
	latRegex      = regexp.MustCompile(`\blat\s*:\s*["']?(-?[\d.]+)`)
	lngRegex      = regexp.MustCompile(`\blng\s*:\s*["']?(-?[\d.]+)`)
)

// Options configures Client.
type Options struct {
	BaseURL  string
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Client fetches registry pages, one at a time.
type Client struct {
	base   *url.URL
	client *http.Client
	pacer  *pace.Pacer
}

// NewClient creates a registry client. Without options it waits between 1
// and 5 seconds between pages.
func NewClient(options *Options, client *http.Client) (*Client, error) {
	if options == nil {
		options = &Options{MinDelay: time.Second, MaxDelay: 5 * time.Second}
	}

	base := options.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL %q: %w", base, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must be an http(s) URL", base)
	}

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		base:   u,
		client: client,
		pacer:  pace.New(options.MinDelay, options.MaxDelay),
	}, nil
}

// PageURL returns the registry page of a school.
func (c *Client) PageURL(id string) string {
	return c.base.JoinPath("rspo", url.PathEscape(strings.TrimSpace(id))).String()
}

// Coordinates returns the map point shown on the registry page of id.
func (c *Client) Coordinates(ctx context.Context, id string) (spatial.Point, error) {
	var p spatial.Point

	err := c.pacer.Do(ctx, func() error {
		n, err := c.fetch(ctx, id)
		if err != nil {
			return err
		}

		p, err = FindLocation(n)

		return err
	})
	if err != nil {
		return spatial.Point{}, fmt.Errorf("rspo %s: %w", id, err)
	}

	return p, nil
}

func (c *Client) fetch(ctx context.Context, id string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PageURL(id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	r, err := htmlutils.AsReader(resp)
	if err != nil {
		return nil, err
	}

	return htmlutils.AsNode(r)
}

// FindLocation looks for the map point script in a registry page.
func FindLocation(n *html.Node) (spatial.Point, error) {
	for script := range htmlutils.Scripts(n) {
		if p, ok := ParseMapPoint(script); ok {
			return p, nil
		}
	}

	return spatial.Point{}, ErrNoLocation
}

// ParseMapPoint extracts lat and lng from a `var map_point = {...};`
// declaration.
func ParseMapPoint(script string) (spatial.Point, bool) {
	m := mapPointRegex.FindStringSubmatch(script)
	if m == nil {
		return spatial.Point{}, false
	}

	lat, ok := parseFloat(latRegex, m[1])
	if !ok {
		return spatial.Point{}, false
	}

	lng, ok := parseFloat(lngRegex, m[1])
	if !ok {
		return spatial.Point{}, false
	}

	p := spatial.Point{Lat: lat, Lng: lng}

	return p, p.Valid()
}

func parseFloat(re *regexp.Regexp, s string) (float64, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	v, err := strconv.ParseFloat(m[1], 64)

	return v, err == nil
}
