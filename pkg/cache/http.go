package cache

import (
	"net/http"
)

// ShouldMakeConditionalRequest reports whether entry carries a validator.
func ShouldMakeConditionalRequest(entry *Entry) bool {
	return entry != nil && entry.ETag != ""
}

// AddConditionalHeaders sets If-None-Match from the entry's ETag.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if req == nil || !ShouldMakeConditionalRequest(entry) {
		return
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set("If-None-Match", entry.ETag)
	ConditionalRequestsSent.Inc()
}

// ValidatorFrom returns the ETag of a response, or "" when absent.
func ValidatorFrom(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Header.Get("ETag")
}
