// Package testutil provides a mock portal server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockPortal is a configurable mock portal API with a push channel. Family
// collections are served at /api/<family> and /api/<family>/<id> with
// success envelopes and ETags; deltas are broadcast on /ws (WebSocket) and
// /events (SSE).
type MockPortal struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	collections map[string][]json.RawMessage
	versions    map[string]int

	subscribers map[chan string]struct{}

	// Tracking
	RequestCount      int
	ConditionalCount  int
	NotModifiedCount  int
	PongCount         int
	PushConnections   int
	LastRequestHeader http.Header
	LastSSEEntities   string
}

// NewMockPortal starts a mock portal server.
func NewMockPortal() *MockPortal {
	mock := &MockPortal{
		handlers:    make(map[string]func(w http.ResponseWriter, r *http.Request)),
		collections: make(map[string][]json.RawMessage),
		versions:    make(map[string]int),
		subscribers: make(map[chan string]struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", websocket.Handler(mock.serveWebSocket))
	mux.HandleFunc("/events", mock.serveSSE)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" {
			mock.ConditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	})

	mock.server = httptest.NewServer(mux)
	return mock
}

// URL returns the server root URL.
func (m *MockPortal) URL() string {
	return m.server.URL
}

// APIURL returns the API base URL.
func (m *MockPortal) APIURL() string {
	return m.server.URL + "/api"
}

// WebSocketURL returns the push endpoint as a ws:// URL.
func (m *MockPortal) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http") + "/ws"
}

// SSEURL returns the SSE push endpoint.
func (m *MockPortal) SSEURL() string {
	return m.server.URL + "/events"
}

// Close disconnects push clients and shuts down the server.
func (m *MockPortal) Close() {
	m.DisconnectPush()
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockPortal) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.NotModifiedCount = 0
	m.PongCount = 0
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockPortal) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockPortal) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetCollection replaces the records served for a family. Each record must
// be a JSON object carrying the family's primary key.
func (m *MockPortal) SetCollection(family string, records ...string) {
	raws := make([]json.RawMessage, len(records))
	for i, r := range records {
		raws[i] = json.RawMessage(r)
	}
	m.mu.Lock()
	m.collections[family] = raws
	m.versions[family]++
	m.mu.Unlock()
}

// GetRequestCount returns the number of API requests.
func (m *MockPortal) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of requests with If-None-Match.
func (m *MockPortal) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetNotModifiedCount returns the number of 304 responses served.
func (m *MockPortal) GetNotModifiedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.NotModifiedCount
}

// GetPongCount returns the number of pong frames received over WebSocket.
func (m *MockPortal) GetPongCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PongCount
}

// GetPushConnections returns the number of push connections accepted.
func (m *MockPortal) GetPushConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PushConnections
}

// GetLastSSEEntities returns the entities parameter of the last SSE request.
func (m *MockPortal) GetLastSSEEntities() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastSSEEntities
}

// GetSubscriberCount returns the number of live push connections.
func (m *MockPortal) GetSubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// Broadcast sends a raw frame to every live push connection.
func (m *MockPortal) Broadcast(frame string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch := range m.subscribers {
		select {
		case ch <- frame:
		default:
		}
	}
}

// DisconnectPush closes every live push connection.
func (m *MockPortal) DisconnectPush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, ch)
	}
}

func (m *MockPortal) subscribe() chan string {
	ch := make(chan string, 64)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.PushConnections++
	m.mu.Unlock()
	return ch
}

func (m *MockPortal) unsubscribe(ch chan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[ch]; ok {
		delete(m.subscribers, ch)
		close(ch)
	}
}

func (m *MockPortal) serveWebSocket(ws *websocket.Conn) {
	defer ws.Close()
	ch := m.subscribe()
	defer m.unsubscribe(ch)

	go func() {
		for {
			var frame string
			if err := websocket.Message.Receive(ws, &frame); err != nil {
				return
			}
			if strings.Contains(frame, `"pong"`) {
				m.mu.Lock()
				m.PongCount++
				m.mu.Unlock()
			}
		}
	}()

	for frame := range ch {
		if err := websocket.Message.Send(ws, frame); err != nil {
			return
		}
	}
}

func (m *MockPortal) serveSSE(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.LastSSEEntities = r.URL.Query().Get("entities")
	m.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	ch := m.subscribe()
	defer m.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// defaultHandler serves family collections and details.
func (m *MockPortal) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api"), "/")
	family, id, _ := strings.Cut(path, "/")

	m.mu.RLock()
	records, ok := m.collections[family]
	version := m.versions[family]
	m.mu.RUnlock()

	if !ok || r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":{"message":"not found"}}`))
		return
	}

	if id != "" {
		for _, rec := range records {
			if recordID(rec) == id {
				WriteEnvelope(w, http.StatusOK, rec)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":{"message":"not found"}}`))
		return
	}

	etag := fmt.Sprintf(`"%s-v%d"`, family, version)
	if r.Header.Get("If-None-Match") == etag {
		m.mu.Lock()
		m.NotModifiedCount++
		m.mu.Unlock()
		w.WriteHeader(http.StatusNotModified)
		return
	}

	data, _ := json.Marshal(records)
	w.Header().Set("ETag", etag)
	WriteEnvelope(w, http.StatusOK, data)
}

// recordID returns the first *_id field of a record, as a string.
func recordID(rec json.RawMessage) string {
	var fields map[string]any
	if err := json.Unmarshal(rec, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"user_id", "event_id", "announcement_id", "war_id"} {
		if v, ok := fields[key]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// WriteEnvelope writes data wrapped in a success envelope.
func WriteEnvelope(w http.ResponseWriter, status int, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"success":true,"data":%s}`, data)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"success":false,"error":{"message":"Rate limit exceeded"}}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"success":false,"error":{"message":"Internal server error"}}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewConditionalHandler creates a handler that answers 304 when the request
// carries etag, and otherwise returns data in a success envelope.
func NewConditionalHandler(etag string, data string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		WriteEnvelope(w, http.StatusOK, json.RawMessage(data))
	}
}
