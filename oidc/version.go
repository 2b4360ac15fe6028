// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"runtime"
)

// Version of the library, reported in the User-Agent header.
const Version = "0.1.0"

// UserAgent returns the User-Agent header value sent with every request to
// the provider: appauth-go/<version> (<goos>; <goarch>)
func UserAgent() string {
	return fmt.Sprintf("appauth-go/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}
