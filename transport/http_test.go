package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService accepts every request so handler tests can exercise routing,
// decoding and reply encoding without a real tracker behind the handler.
type stubService struct{}

func (stubService) AppsCreate(context.Context, *AppInfo) error                           { return nil }
func (stubService) AppsList(context.Context, *AppsListRequest, *AppsListResponse) error  { return nil }
func (stubService) DupsAdd(context.Context, *DupsAddRequest, *DupsAddResponse) error     { return nil }
func (stubService) DupsModify(context.Context, *DupsModifyRequest, *DupsModifyResponse) error {
	return nil
}
func (stubService) DupsQuery(context.Context, *DupsQueryRequest, *DupsQueryResponse) error {
	return nil
}
func (stubService) DupsSync(context.Context, *DupsSyncRequest, *DupsSyncResponse) error { return nil }

func TestHTTPHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	h := NewHTTPHandler(stubService{}, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		"v0.test", nil)
	registry.MustRegister(h)

	srv := httptest.NewServer(h)
	defer srv.Close()
	clt := srv.Client()

	t.Run("Health", func(t *testing.T) {
		rs, err := clt.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer func() { _ = rs.Body.Close() }()

		require.Equal(t, http.StatusOK, rs.StatusCode)
		assert.Contains(t, rs.Header.Get("Content-Type"), "application/health+json")

		var health HealthResponse
		require.NoError(t, json.NewDecoder(rs.Body).Decode(&health))
		assert.Equal(t, HealthStatusPass, health.Status)
		assert.Equal(t, "v0.test", health.Version)
	})

	t.Run("RequestID", func(t *testing.T) {
		rs, err := clt.Post(srv.URL+RPCAppsList, "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		_ = rs.Body.Close()

		require.Equal(t, http.StatusOK, rs.StatusCode)
		assert.NotEmpty(t, rs.Header.Get("X-Request-Id"))
	})

	t.Run("MalformedBody", func(t *testing.T) {
		for _, test := range []struct {
			Name string
			Path string
		}{
			{Name: "AppsCreate", Path: RPCAppsCreate},
			{Name: "DupsAdd", Path: RPCDupsAdd},
			{Name: "DupsModify", Path: RPCDupsModify},
			{Name: "DupsQuery", Path: RPCDupsQuery},
			{Name: "DupsSync", Path: RPCDupsSync},
		} {
			t.Run(test.Name, func(t *testing.T) {
				rs, err := clt.Post(srv.URL+test.Path, "application/json",
					strings.NewReader(`{"this is": not json`))
				require.NoError(t, err)
				defer func() { _ = rs.Body.Close() }()

				require.Equal(t, http.StatusBadRequest, rs.StatusCode)

				var reply Reply
				require.NoError(t, json.NewDecoder(rs.Body).Decode(&reply))
				assert.Equal(t, CodeBadRequest, reply.Code)
				assert.Contains(t, reply.Message, "while reading request body")
			})
		}
	})

	t.Run("UnknownRoutes", func(t *testing.T) {
		for _, test := range []struct {
			Name string
			URI  string
		}{
			{Name: "Root", URI: "/"},
			{Name: "Garbage", URI: "/test40ways"},
			{Name: "DeepPath", URI: "/v1/apps.create/must/wonder/why/this/kept/going"},
			{Name: "SQLInjectionsAreRude", URI: "/%27+UNION+SELECT+user%2C+password+FROM+users--"},
		} {
			t.Run(test.Name, func(t *testing.T) {
				rq, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s%s", srv.URL, test.URI), nil)
				require.NoError(t, err)

				rs, err := clt.Do(rq)
				require.NoError(t, err)
				defer func() { _ = rs.Body.Close() }()

				require.Equal(t, http.StatusNotFound, rs.StatusCode, "Expected HTTP 404 for GET %s", test.URI)

				var reply Reply
				require.NoError(t, json.NewDecoder(rs.Body).Decode(&reply))
				assert.Equal(t, CodeNotFound, reply.Code)
			})
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rs, err := clt.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer func() { _ = rs.Body.Close() }()

		require.Equal(t, http.StatusOK, rs.StatusCode)
		body, err := io.ReadAll(rs.Body)
		require.NoError(t, err)
		// The handler registers its own request duration summary, requests
		// made earlier in this test must show up in the scrape.
		assert.Contains(t, string(body), "http_handler_duration")
	})
}
