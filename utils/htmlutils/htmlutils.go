// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

// Package htmlutils provides utility functions for working with HTML.
package htmlutils

import (
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// Scripts yields the body of every inline <script> element below n, in
// document order.
func Scripts(n *html.Node) iter.Seq[string] {
	return func(yield func(string) bool) {
		for d := range n.Descendants() {
			if d.Type != html.ElementNode || d.DataAtom != atom.Script {
				continue
			}

			var sb strings.Builder

			for c := d.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
			}

			if sb.Len() == 0 {
				continue
			}

			if !yield(sb.String()) {
				return
			}
		}
	}
}

// Validates that response seems to be an HTML response.
func hasHTMLContentType(media string) bool {
	const expectedMedia = "text/html"

	return strings.EqualFold(
		expectedMedia,
		media[0:min(len(media), len(expectedMedia))],
	)
}

// AsReader converts an HTTP response body to an io.Reader decoded as UTF-8.
func AsReader(resp *http.Response) (io.Reader, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	media := resp.Header.Get("Content-Type")
	if !hasHTMLContentType(media) {
		return nil, fmt.Errorf("media type is %s", media)
	}

	return charset.NewReader(resp.Body, media)
}

// AsNode parses an io.Reader as an HTML node.
func AsNode(r io.Reader) (*html.Node, error) {
	n, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing body as HTML: %w", err)
	}

	return n, nil
}
