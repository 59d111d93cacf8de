package main

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// echoed is what the test backend saw from the gateway.
type echoed struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	Query     string `json:"query"`
	RequestID string `json:"requestId"`
	Forwarded string `json:"forwarded"`
	Host      string `json:"host"`
}

func newEchoBackend(t *testing.T) (*httptest.Server, string, int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		w.Header().Set("Location", "/books/1")
		_ = json.NewEncoder(w).Encode(echoed{
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			RequestID: r.Header.Get(RequestIDHeader),
			Forwarded: r.Header.Get("X-Forwarded-For"),
			Host:      r.Host,
		})
	}))
	t.Cleanup(srv.Close)
	host, port := splitHostPort(t, srv.Listener.Addr().String())
	return srv, host, port
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, p, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return host, port
}

func booksRouteTable(t *testing.T, host string, port int) *RouteTable {
	t.Helper()
	hp := []DownstreamHostAndPort{{Host: host, Port: port}}
	table := &RouteTable{Routes: []GatewayRoute{
		{
			UpstreamPathTemplate:   "/api/books/{everything}",
			UpstreamHTTPMethods:    []string{"get", "PUT", "DELETE"},
			DownstreamPathTemplate: "/books/{everything}",
			DownstreamHostAndPorts: hp,
		},
		{
			UpstreamPathTemplate:   "/api/books",
			UpstreamHTTPMethods:    []string{"GET", "POST"},
			DownstreamPathTemplate: "/books",
			DownstreamHostAndPorts: hp,
		},
	}}
	require.NoError(t, table.Validate())
	return table
}

func newTestGateway(t *testing.T, table *RouteTable, ids UIDHandler) http.Handler {
	t.Helper()
	gw := NewGateway(zap.NewNop(), table, ids, NewMockClocker(), nil)
	h, err := gw.Handler()
	require.NoError(t, err)
	return h
}

func writeRoutesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routes.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadGatewayRoutes(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := writeRoutesFile(t, `
routes:
  - upstream_path_template: /api/books/{everything}
    upstream_http_methods: [get, put]
    downstream_path_template: /books/{everything}
    downstream_host_and_ports:
      - host: localhost
        port: 8080
  - upstream_path_template: /api/books
    downstream_path_template: /books
    downstream_scheme: HTTPS
    downstream_host_and_ports:
      - host: books.internal
        port: 443
`)
		table, err := LoadGatewayRoutes(path)
		require.NoError(t, err)
		require.Len(t, table.Routes, 2)
		assert.Equal(t, []string{"GET", "PUT"}, table.Routes[0].UpstreamHTTPMethods)
		assert.Equal(t, "http", table.Routes[0].DownstreamScheme)
		assert.Equal(t, "localhost:8080", table.Routes[0].Downstream())
		assert.Equal(t, "https", table.Routes[1].DownstreamScheme)
		assert.True(t, table.Routes[1].MatchesMethod(http.MethodPatch))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadGatewayRoutes(filepath.Join(t.TempDir(), "none.yml"))
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		_, err := LoadGatewayRoutes(writeRoutesFile(t, "routes: [:"))
		assert.Error(t, err)
	})
}

func TestRouteTableValidate(t *testing.T) {
	hp := []DownstreamHostAndPort{{Host: "localhost", Port: 8080}}
	testCases := []struct {
		name  string
		route GatewayRoute
		err   string
	}{
		{"upstream without slash", GatewayRoute{UpstreamPathTemplate: "api", DownstreamPathTemplate: "/books", DownstreamHostAndPorts: hp}, "must start with /"},
		{"downstream without slash", GatewayRoute{UpstreamPathTemplate: "/api", DownstreamPathTemplate: "books", DownstreamHostAndPorts: hp}, "must start with /"},
		{"repeated placeholder", GatewayRoute{UpstreamPathTemplate: "/api/{id}/{id}", DownstreamPathTemplate: "/books", DownstreamHostAndPorts: hp}, "repeats placeholder"},
		{"unknown downstream placeholder", GatewayRoute{UpstreamPathTemplate: "/api/{id}", DownstreamPathTemplate: "/books/{slug}", DownstreamHostAndPorts: hp}, "not defined upstream"},
		{"empty method", GatewayRoute{UpstreamPathTemplate: "/api", UpstreamHTTPMethods: []string{" "}, DownstreamPathTemplate: "/books", DownstreamHostAndPorts: hp}, "empty value"},
		{"bad scheme", GatewayRoute{UpstreamPathTemplate: "/api", DownstreamPathTemplate: "/books", DownstreamScheme: "ftp", DownstreamHostAndPorts: hp}, "unsupported downstream scheme"},
		{"no host", GatewayRoute{UpstreamPathTemplate: "/api", DownstreamPathTemplate: "/books"}, "at least one downstream host"},
		{"empty host", GatewayRoute{UpstreamPathTemplate: "/api", DownstreamPathTemplate: "/books", DownstreamHostAndPorts: []DownstreamHostAndPort{{Port: 80}}}, "host must not be empty"},
		{"bad port", GatewayRoute{UpstreamPathTemplate: "/api", DownstreamPathTemplate: "/books", DownstreamHostAndPorts: []DownstreamHostAndPort{{Host: "localhost", Port: 70000}}}, "port 70000 is not valid"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			table := &RouteTable{Routes: []GatewayRoute{tc.route}}
			err := table.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
			assert.Contains(t, err.Error(), "route #1")
		})
	}

	t.Run("empty table", func(t *testing.T) {
		assert.Error(t, (&RouteTable{}).Validate())
	})
}

func TestPathTemplates(t *testing.T) {
	assert.Equal(t, "/api/books", toMuxTemplate("/api/books"))
	assert.Equal(t, "/api/books/{everything:.*}", toMuxTemplate("/api/books/{everything}"))
	assert.Equal(t, "/api/{id}/reviews", toMuxTemplate("/api/{id}/reviews"))
	assert.Equal(t, "/api/{shelf}/{rest:.*}", toMuxTemplate("/api/{shelf}/{rest}"))

	vars := map[string]string{"everything": "12/reviews", "id": "7"}
	assert.Equal(t, "/books/12/reviews", expandTemplate("/books/{everything}", vars))
	assert.Equal(t, "/books/7/pages", expandTemplate("/books/{id}/pages", vars))
	assert.Equal(t, "/books", expandTemplate("/books", vars))
	assert.Equal(t, []string{"shelf", "rest"}, templateVariables("/api/{shelf}/{rest}"))
}

func TestGatewayUpstreamLocation(t *testing.T) {
	hp := []DownstreamHostAndPort{{Host: "books", Port: 8080}}
	table := &RouteTable{Routes: []GatewayRoute{
		{UpstreamPathTemplate: "/api/books/{everything}", DownstreamPathTemplate: "/books/{everything}", DownstreamHostAndPorts: hp},
		{UpstreamPathTemplate: "/api/books", DownstreamPathTemplate: "/books", DownstreamHostAndPorts: hp},
		{UpstreamPathTemplate: "/api/shelves/{shelf}/items", DownstreamPathTemplate: "/shelves/{shelf}/items", DownstreamHostAndPorts: hp},
		{UpstreamPathTemplate: "/api/reviews/{id}", DownstreamPathTemplate: "/reviews", DownstreamHostAndPorts: hp},
	}}
	require.NoError(t, table.Validate())
	gw := NewGateway(zap.NewNop(), table, NewMockUIDHandler("abc", false), NewMockClocker(), nil)
	downstream := table.Routes[0].Downstream()

	testCases := []struct {
		name       string
		downstream string
		location   string
		expected   string
	}{
		{"single book", downstream, "/books/7", "/api/books/7"},
		{"collection", downstream, "/books", "/api/books"},
		{"query kept", downstream, "/books/search?searchTerm=Go", "/api/books/search?searchTerm=Go"},
		{"inner variable", downstream, "/shelves/3/items", "/api/shelves/3/items"},
		{"no matching route", downstream, "/authors/1", "/authors/1"},
		{"upstream variable missing downstream", downstream, "/reviews", "/reviews"},
		{"absolute url", downstream, "http://books:8080/books/7", "http://books:8080/books/7"},
		{"relative path", downstream, "books/7", "books/7"},
		{"other downstream service", "authors:8080", "/books/7", "/books/7"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, gw.upstreamLocation(tc.downstream, tc.location))
		})
	}
}

func TestGatewayProxy(t *testing.T) {
	_, host, port := newEchoBackend(t)
	gw := newTestGateway(t, booksRouteTable(t, host, port), NewMockUIDHandler("abc", false))

	testCases := []struct {
		name   string
		method string
		target string
		path   string
		query  string
	}{
		{"collection", http.MethodGet, "/api/books", "/books", ""},
		{"create", http.MethodPost, "/api/books", "/books", ""},
		{"single book", http.MethodGet, "/api/books/12", "/books/12", ""},
		{"several segments", http.MethodDelete, "/api/books/12/reviews/3", "/books/12/reviews/3", ""},
		{"query forwarded", http.MethodGet, "/api/books/search?searchTerm=Go+lang&x=1", "/books/search", "searchTerm=Go+lang&x=1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			w := httptest.NewRecorder()
			gw.ServeHTTP(w, req)
			res := w.Result()
			defer res.Body.Close()
			require.Equal(t, http.StatusOK, res.StatusCode)

			var got echoed
			require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
			assert.Equal(t, tc.method, got.Method)
			assert.Equal(t, tc.path, got.Path)
			assert.Equal(t, tc.query, got.Query)
			assert.Equal(t, "r:abc", got.RequestID)
			assert.NotEmpty(t, got.Forwarded)
			assert.Equal(t, net.JoinHostPort(host, strconv.Itoa(port)), got.Host)
			assert.Equal(t, "r:abc", res.Header.Get(RequestIDHeader))
			assert.Equal(t, "/api/books/1", res.Header.Get("Location"))
		})
	}
}

func TestGatewayProxy_KeepsIncomingRequestID(t *testing.T) {
	_, host, port := newEchoBackend(t)
	ids := NewIDsHandler()
	gw := newTestGateway(t, booksRouteTable(t, host, port), ids)
	incoming := ids.Generate(RequestIDPrefix)

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.Header.Set(RequestIDHeader, incoming)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	var got echoed
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, incoming, got.RequestID)
	assert.Equal(t, incoming, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.Header.Set(RequestIDHeader, "forged")
	w = httptest.NewRecorder()
	gw.ServeHTTP(w, req)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.NotEqual(t, "forged", got.RequestID)
	assert.True(t, ids.IsValid(got.RequestID, RequestIDPrefix))
}

func TestGatewayNotFound(t *testing.T) {
	_, host, port := newEchoBackend(t)
	gw := newTestGateway(t, booksRouteTable(t, host, port), NewMockUIDHandler("abc", false))

	testCases := []struct {
		name   string
		method string
		target string
	}{
		{"unknown path", http.MethodGet, "/api/authors"},
		{"method not listed on wildcard route", http.MethodPost, "/api/books/12"},
		{"method not listed on collection route", http.MethodDelete, "/api/books"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			gw.ServeHTTP(w, httptest.NewRequest(tc.method, tc.target, nil))
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, "r:abc", w.Header().Get(RequestIDHeader))
			expected := `{"requestid":"r:abc", "message":"route does not exist", "path":"` + tc.method + " " + tc.target + `"}`
			assert.JSONEq(t, expected, w.Body.String())
		})
	}
}

func TestGatewayUnreachableDownstream(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port := splitHostPort(t, l.Addr().String())
	require.NoError(t, l.Close())

	gw := newTestGateway(t, booksRouteTable(t, host, port), NewMockUIDHandler("abc", false))
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/books/1", nil))

	res := w.Result()
	defer res.Body.Close()
	apiErr := decodeAPIError(t, res, http.StatusBadGateway)
	assert.Equal(t, "r:abc", apiErr.RequestID)
	assert.Equal(t, "downstream service unavailable", apiErr.Message)
}

func TestGatewayCORS(t *testing.T) {
	_, host, port := newEchoBackend(t)
	gw := newTestGateway(t, booksRouteTable(t, host, port), NewMockUIDHandler("abc", false))

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/books/1", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPut)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		w := httptest.NewRecorder()
		gw.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.MethodPut, w.Header().Get("Access-Control-Allow-Methods"))
		assert.Empty(t, w.Body.String())
	})

	t.Run("preflight with custom header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/books", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-Api-Key")
		w := httptest.NewRecorder()
		gw.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Api-Key")
	})

	t.Run("simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		gw.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Location")
	})
}

func TestGatewayStatus(t *testing.T) {
	_, host, port := newEchoBackend(t)
	gw := newTestGateway(t, booksRouteTable(t, host, port), NewMockUIDHandler("abc", false))

	w := httptest.NewRecorder()
	gw.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	m := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&m))
	assert.Equal(t, "r:abc", m["requestid"])
	assert.Equal(t, "up & running since 0 mins", m["status"])
	assert.Equal(t, float64(2), m["routes"])

	w = httptest.NewRecorder()
	gw.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ops/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	data, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "shelfgate_http_requests_total"))
}
