// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/jcodagnone/rspogeo/cmd"
)

var Version = "development"

func main() {
	cmd.Execute(Version)
}
