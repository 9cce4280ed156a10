package cache

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key returns the deterministic identity of a GET request URL. Query
// parameters are re-encoded in sorted order so that equivalent URLs share a
// validator.
//
// Example:
//
//	Key("https://portal/api/members?role=officer&page=2")
//	// https://portal/api/members?page=2&role=officer
func Key(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}

// hashedKey maps a key to a fixed-size storage key for shared stores.
// Format: portal:etag:<xxhash64 hex>
func hashedKey(key string) string {
	return "portal:etag:" + strconv.FormatUint(xxhash.Sum64String(key), 16)
}
