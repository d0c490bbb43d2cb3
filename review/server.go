// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

// Package review serves the stored geocoder answers for manual inspection.
package review

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jcodagnone/rspogeo/geocode"
	"github.com/jcodagnone/rspogeo/store"
	"github.com/jcodagnone/rspogeo/warehouse"
)

// DefaultAddr only listens on the loopback interface.
const DefaultAddr = "localhost:8080"

// Server exposes a read-only JSON API over a snapshot of the result store.
type Server struct {
	mapping     store.Mapping
	selector    *geocode.Selector
	postcodes   map[string]string
	resolutions []*warehouse.Resolution
	byID        map[string]*warehouse.Resolution
}

// NewServer loads st once. postcodes maps ids to the registry postcode.
func NewServer(st store.ResultStore, selector *geocode.Selector, postcodes map[string]string) (*Server, error) {
	m, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("loading result store: %w", err)
	}

	if selector == nil {
		selector = geocode.NewSelector()
	}

	s := &Server{
		mapping:     m,
		selector:    selector,
		postcodes:   postcodes,
		resolutions: warehouse.Resolve(m, selector, postcodes),
		byID:        make(map[string]*warehouse.Resolution, len(m)),
	}

	for _, r := range s.resolutions {
		s.byID[r.ID] = r
	}

	log.Printf("Serving %d stored results", len(m))

	return s, nil
}

// Routes registers the API on r.
func (s *Server) Routes(r gin.IRoutes) {
	r.GET("/api/stats", s.getStats)
	r.GET("/api/records/:id", s.getRecord)
	r.GET("/api/unresolved", s.listUnresolved)
}

// Run serves on addr, which must be a loopback address.
func (s *Server) Run(addr string) error {
	if err := checkLoopback(addr); err != nil {
		return err
	}

	r := gin.Default()
	s.Routes(r)

	return r.Run(addr)
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}

	if host == "localhost" {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}

	return fmt.Errorf("refusing to listen on %q, only loopback addresses are allowed", addr)
}

// Stats summarizes the store.
type Stats struct {
	Entries    int `json:"entries"`
	Matched    int `json:"matched"`
	Fallback   int `json:"fallback"`
	Unresolved int `json:"unresolved"`
	Errors     int `json:"errors"`
}

func (s *Server) getStats(ctx *gin.Context) {
	stats := Stats{Entries: len(s.resolutions)}

	for _, r := range s.resolutions {
		switch {
		case r.Point == nil:
			stats.Unresolved++
		case r.Matched:
			stats.Matched++
		default:
			stats.Fallback++
		}

		if r.Error != "" {
			stats.Errors++
		}
	}

	ctx.JSON(http.StatusOK, stats)
}

// Record is a stored answer with the selection made from it.
type Record struct {
	ID         string                `json:"id"`
	Postcode   string                `json:"postcode,omitempty"`
	Candidates []geocode.Candidate   `json:"candidates"`
	Selection  *warehouse.Resolution `json:"selection"`
	Index      int                   `json:"index"`
	// DistanceFromFirst is how far, in meters, the selection lies from the
	// first candidate, the one a fallback would have used.
	DistanceFromFirst float64 `json:"distance_from_first"`
}

func (s *Server) getRecord(ctx *gin.Context) {
	id := ctx.Param("id")

	entry, ok := s.mapping.Get(id)
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "id not found in store"})

		return
	}

	candidates, err := geocode.DecodeCandidates(entry.Results)
	if err != nil {
		ctx.JSON(http.StatusOK, gin.H{"id": id, "error": err.Error()})

		return
	}

	if candidates == nil {
		candidates = []geocode.Candidate{}
	}

	res := s.selector.Select(candidates, s.postcodes[id])

	rec := Record{
		ID:         id,
		Postcode:   s.postcodes[id],
		Candidates: candidates,
		Selection:  s.byID[id],
		Index:      res.Index,
	}

	if res.Resolved {
		rec.DistanceFromFirst = res.Point.HaversineDistance(&candidates[0].Point)
	}

	ctx.JSON(http.StatusOK, rec)
}

func (s *Server) listUnresolved(ctx *gin.Context) {
	limit := 1000

	if v := ctx.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})

			return
		}

		limit = n
	}

	ret := []*warehouse.Resolution{}

	for _, r := range s.resolutions {
		if r.Point != nil {
			continue
		}

		if len(ret) == limit {
			break
		}

		ret = append(ret, r)
	}

	ctx.JSON(http.StatusOK, ret)
}
