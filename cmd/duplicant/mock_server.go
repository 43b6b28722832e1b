package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/meridian-io/duplicant/transport"
)

// MockServer captures HTTP requests for testing CLI commands. It records
// every request a CLI verb sends and answers with canned responses, so tests
// can verify the requests without running a full tracker.
type MockServer struct {
	server   *httptest.Server
	mu       sync.RWMutex
	requests []CapturedRequest
}

// CapturedRequest stores details about an HTTP request
type CapturedRequest struct {
	Method   string
	Path     string
	Headers  http.Header
	Body     []byte
	BodyJSON map[string]any
}

// NewMockServer creates a new mock server for testing
func NewMockServer() *MockServer {
	ms := &MockServer{
		requests: make([]CapturedRequest, 0),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", ms.handleRequest)

	ms.server = httptest.NewServer(mux)
	return ms
}

// URL returns the mock server's URL
func (ms *MockServer) URL() string {
	return ms.server.URL
}

// Close shuts down the mock server
func (ms *MockServer) Close() {
	ms.server.Close()
}

// GetRequests returns all captured requests
func (ms *MockServer) GetRequests() []CapturedRequest {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return append([]CapturedRequest(nil), ms.requests...)
}

// GetLastRequest returns the most recent request
func (ms *MockServer) GetLastRequest() *CapturedRequest {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if len(ms.requests) == 0 {
		return nil
	}
	return &ms.requests[len(ms.requests)-1]
}

// ClearRequests clears all captured requests
func (ms *MockServer) ClearRequests() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.requests = ms.requests[:0]
}

// handleRequest captures all incoming requests and returns appropriate responses
func (ms *MockServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	var bodyJSON map[string]any
	if len(body) > 0 {
		_ = json.Unmarshal(body, &bodyJSON)
	}

	captured := CapturedRequest{
		Method:   r.Method,
		Path:     r.URL.Path,
		Headers:  r.Header.Clone(),
		Body:     body,
		BodyJSON: bodyJSON,
	}

	ms.mu.Lock()
	ms.requests = append(ms.requests, captured)
	ms.mu.Unlock()

	ms.respondToRequest(w, r)
}

// mockEntry is the duplication every canned response carries
func mockEntry() *transport.DupEntry {
	return &transport.DupEntry{
		DupID:       1700000000,
		AppID:       1,
		Remote:      "cluster-bj",
		Status:      "START",
		FailMode:    "FAIL_SLOW",
		CreatedAtMs: 1700000000000,
		Progress:    map[int]int64{0: 11},
	}
}

// respondToRequest provides mock responses for different endpoints
func (ms *MockServer) respondToRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case transport.RPCAppsCreate:
		ms.writeResponse(w, &transport.Reply{
			Code: transport.CodeOK, CodeText: transport.CodeText(transport.CodeOK),
		})
	case transport.RPCAppsList:
		ms.writeResponse(w, &transport.AppsListResponse{
			Apps: []*transport.AppInfo{
				{
					Name:           "ledger",
					AppID:          1,
					PartitionCount: 8,
					CreatedAtMs:    1700000000000,
				},
			},
		})
	case transport.RPCDupsAdd:
		ms.writeResponse(w, &transport.DupsAddResponse{Dup: mockEntry()})
	case transport.RPCDupsModify:
		ms.writeResponse(w, &transport.DupsModifyResponse{Dup: mockEntry()})
	case transport.RPCDupsQuery:
		ms.writeResponse(w, &transport.DupsQueryResponse{
			Dups: []*transport.DupEntry{mockEntry()},
		})
	case transport.RPCDupsSync:
		ms.writeResponse(w, &transport.DupsSyncResponse{
			Dups: []*transport.DupEntry{mockEntry()},
		})
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (ms *MockServer) writeResponse(w http.ResponseWriter, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
