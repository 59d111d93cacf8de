package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id from the gateway to the downstream services.
const RequestIDHeader = "X-Request-Id"

// Gateway forwards requests to downstream services following a static route table.
type Gateway struct {
	logger     *zap.Logger
	table      *RouteTable
	idsHandler UIDHandler
	clock      Clocker
	started    time.Time
	transport  http.RoundTripper
	reverse    []reverseRoute
}

// NewGateway provides a gateway over the given route table. A nil transport
// means http.DefaultTransport.
func NewGateway(logger *zap.Logger, table *RouteTable, idsHandler UIDHandler, clock Clocker, transport http.RoundTripper) *Gateway {
	gw := &Gateway{
		logger:     logger,
		table:      table,
		idsHandler: idsHandler,
		clock:      clock,
		started:    clock.Now(),
		transport:  transport,
	}
	for _, route := range table.Routes {
		if rr, ok := newReverseRoute(route); ok {
			gw.reverse = append(gw.reverse, rr)
		}
	}
	return gw
}

// upstreamLocation translates a Location set by a downstream service into the
// path clients reach it through the gateway. Absolute urls and paths no route
// of that downstream service can produce are kept as is.
func (gw *Gateway) upstreamLocation(downstream, location string) string {
	if !strings.HasPrefix(location, "/") || strings.HasPrefix(location, "//") {
		return location
	}
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	for _, rr := range gw.reverse {
		if rr.downstream != downstream {
			continue
		}
		if path, ok := rr.upstreamPath(u.Path); ok {
			u.Path = path
			u.RawPath = ""
			return u.String()
		}
	}
	return location
}

// Handler builds the gateway http handler. The gateway own endpoints are registered
// before the route table so they can not be shadowed.
func (gw *Gateway) Handler() (http.Handler, error) {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(gw.NotFound)
	router.Use(gw.requestMiddleware)

	router.HandleFunc("/status", gw.Status).Methods(http.MethodGet).Name("/status")
	router.Handle("/ops/metrics", MetricsHandler()).Methods(http.MethodGet).Name("/ops/metrics")

	for i := range gw.table.Routes {
		route := gw.table.Routes[i]
		mr := router.Handle(toMuxTemplate(route.UpstreamPathTemplate), gw.newRouteProxy(route)).
			MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
				return route.MatchesMethod(r.Method)
			}).
			Name(route.UpstreamPathTemplate)
		if err := mr.GetError(); err != nil {
			return nil, fmt.Errorf("invalid upstream path template %q: %w", route.UpstreamPathTemplate, err)
		}
	}

	stdLogger := NewStdLogger(gw.logger, "gateway.recovery")
	return openCORS(handlers.RecoveryHandler(
		handlers.RecoveryLogger(&recoveryLogger{stdLogger}),
		handlers.PrintRecoveryStack(true),
	)(router)), nil
}

// corsHeaders are always allowed, even without a preflight asking for them.
var corsHeaders = []string{"Content-Type", "Authorization", "Accept", "Accept-Language", "Origin", "X-Requested-With", RequestIDHeader}

// openCORS applies the gorilla cors handler with every origin and method
// allowed. The allowed headers are completed with the ones the preflight asks
// for since the gorilla handler only accepts a fixed list.
func openCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := corsHeaders
		if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
			allowed = append(append([]string{}, corsHeaders...), strings.Split(requested, ",")...)
		}
		handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods(AllMethods),
			handlers.AllowedHeaders(allowed),
			handlers.ExposedHeaders([]string{"Location", RequestIDHeader}),
		)(next).ServeHTTP(w, r)
	})
}

// recoveryLogger counts the recovered panics before logging them.
type recoveryLogger struct {
	handlers.RecoveryHandlerLogger
}

func (rl *recoveryLogger) Println(args ...interface{}) {
	panicRecoveries.WithLabelValues(componentGateway).Inc()
	rl.RecoveryHandlerLogger.Println(args...)
}

// requestID returns the id set by a previous hop if valid or a new one.
func (gw *Gateway) requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" && gw.idsHandler.IsValid(id, RequestIDPrefix) {
		return id
	}
	return gw.idsHandler.Generate(RequestIDPrefix)
}

// requestMiddleware tags matched requests with an id then logs and measures them.
func (gw *Gateway) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := gw.requestID(r)
		r.Header.Set(RequestIDHeader, requestID)
		w.Header().Set(RequestIDHeader, requestID)

		route := "unknown"
		if cr := mux.CurrentRoute(r); cr != nil {
			route = cr.GetName()
		}

		httpRequestsInFlight.WithLabelValues(componentGateway).Inc()
		cw := NewCustomResponseWriter(w)
		defer func() {
			httpRequestsInFlight.WithLabelValues(componentGateway).Dec()
			observeRequest(componentGateway, r.Method, route, cw.Status(), start)
			gw.logger.Info(
				"request",
				zap.String("request.id", requestID),
				zap.String("request.method", r.Method),
				zap.String("request.path", r.URL.Path),
				zap.String("request.ip", GetRequestSourceIP(r)),
				zap.String("gateway.route", route),
				zap.Int("response.status", cw.Status()),
				zap.Duration("request.duration", time.Since(start)),
			)
		}()
		next.ServeHTTP(cw, r)
	})
}

// newRouteProxy builds the reverse proxy of a single route.
func (gw *Gateway) newRouteProxy(route GatewayRoute) http.Handler {
	downstream := route.Downstream()
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = route.DownstreamScheme
			pr.Out.URL.Host = downstream
			pr.Out.URL.Path = expandTemplate(route.DownstreamPathTemplate, mux.Vars(pr.In))
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.Out.Host = ""
			pr.SetXForwarded()
		},
		ModifyResponse: func(res *http.Response) error {
			if location := res.Header.Get("Location"); location != "" {
				res.Header.Set("Location", gw.upstreamLocation(downstream, location))
			}
			return nil
		},
		Transport: gw.transport,
		ErrorLog:  NewStdLogger(gw.logger, "gateway.proxy"),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			gatewayUpstreamErrors.WithLabelValues(route.UpstreamPathTemplate).Inc()
			requestID := r.Header.Get(RequestIDHeader)
			gw.logger.Error("failed to reach downstream service",
				zap.String("request.id", requestID),
				zap.String("gateway.route", route.UpstreamPathTemplate),
				zap.String("gateway.downstream", downstream),
				zap.Error(err),
			)
			errResp := NewAPIError(requestID, http.StatusBadGateway, "downstream service unavailable", EmptyData)
			if err := WriteErrorResponse(r.Context(), w, errResp); err != nil {
				gw.logger.Error("failed to send error response", zap.String("request.id", requestID), zap.Error(err))
			}
		},
	}
}

// NotFound answers requests matching no route.
func (gw *Gateway) NotFound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := gw.requestID(r)
	cw := NewCustomResponseWriter(w)
	cw.Header().Set(RequestIDHeader, requestID)
	gw.logger.Info("route does not exist",
		zap.String("request.id", requestID),
		zap.String("request.method", r.Method),
		zap.String("request.path", r.URL.Path),
	)
	if err := WriteRouteNotFound(cw, requestID, r); err != nil {
		gw.logger.Error("failed to send not found response", zap.String("request.id", requestID), zap.Error(err))
	}
	observeRequest(componentGateway, r.Method, "none", cw.Status(), start)
}

// Status provides basics details about the gateway.
func (gw *Gateway) Status(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(RequestIDHeader)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if err := json.NewEncoder(w).Encode(
		map[string]interface{}{
			"requestid": requestID,
			"status":    fmt.Sprintf("up & running since %.0f mins", gw.clock.Now().Sub(gw.started).Minutes()),
			"message":   "Books gateway is ready to forward requests.",
			"routes":    len(gw.table.Routes),
		},
	); err != nil {
		gw.logger.Error("failed to send status response", zap.String("request.id", requestID), zap.Error(err))
	}
}
