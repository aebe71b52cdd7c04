// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package s3pool

import (
	"context"
	"testing"
)

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		endpoint string
		host     string
		secure   bool
	}{
		{"https://s3.amazonaws.com", "s3.amazonaws.com", true},
		{"http://localhost:9000", "localhost:9000", false},
		{"minio.internal:9000", "minio.internal:9000", true},
		{"localhost:9000", "localhost:9000", false},
		{"127.0.0.1:9000", "127.0.0.1:9000", false},
	}
	for _, tc := range cases {
		host, secure, err := splitEndpoint(tc.endpoint)
		if err != nil {
			t.Errorf("splitEndpoint(%q): %v", tc.endpoint, err)
			continue
		}
		if host != tc.host || secure != tc.secure {
			t.Errorf("splitEndpoint(%q) = %q, %v; want %q, %v",
				tc.endpoint, host, secure, tc.host, tc.secure)
		}
	}

	if _, _, err := splitEndpoint("ftp://example.com"); err == nil {
		t.Error("unsupported scheme accepted")
	}
}

func TestOpenRequiresEndpointAndBucket(t *testing.T) {
	if _, err := Open(context.Background(), Config{Bucket: "b"}); err == nil {
		t.Error("missing endpoint accepted")
	}
	if _, err := Open(context.Background(), Config{Endpoint: "localhost:9000"}); err == nil {
		t.Error("missing bucket accepted")
	}
}
