package main

import (
	"encoding/json"
	"expvar"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Index sends clients to the status page.
func (api *APIHandler) Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	http.Redirect(w, r, "/status", http.StatusSeeOther)
}

// Status tells whether the books api is up and which storage backs it.
func (api *APIHandler) Status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	api.writeJSON(w, requestID, http.StatusOK, "status", map[string]interface{}{
		"requestid": requestID,
		"status":    fmt.Sprintf("up & running since %.0f mins", api.clock.Now().Sub(api.stats.started).Minutes()),
		"message":   "Books api is ready to serve requests.",
		"storage":   api.storageDriver(),
	})
}

// NotFound answers requests to unknown routes with a json message.
func (api *APIHandler) NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
		if requestID == "" && api.idsHandler != nil {
			requestID = api.idsHandler.Generate(RequestIDPrefix)
		}
		api.logger.Info("route does not exist",
			zap.String("request.id", requestID),
			zap.String("request.method", r.Method),
			zap.String("request.path", r.URL.Path),
		)
		api.recordStatus(http.StatusNotFound)
		if err := WriteRouteNotFound(w, requestID, r); err != nil {
			api.logger.Error("failed to send not found response", zap.String("request.id", requestID), zap.Error(err))
		}
	})
}

// enable switches the maintenance mode on with the notice shown to clients.
func (m *Maintenance) enable(notice string, at time.Time) {
	m.mu.Lock()
	m.message, m.started = notice, at
	m.mu.Unlock()
	m.enabled.Store(true)
}

func (m *Maintenance) disable() {
	m.enabled.Store(false)
	m.mu.Lock()
	m.message, m.started = "", time.Time{}
	m.mu.Unlock()
}

// snapshot returns the notice and the start time formatted for responses. The
// time is empty while the mode is off.
func (m *Maintenance) snapshot() (string, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.started.IsZero() {
		return m.message, ""
	}
	return m.message, m.started.Format(time.RFC1123)
}

// Maintenance switches the maintenance mode of the books api.
//
//	GET /ops/maintenance?status=enable&msg=<notice for clients>
//	GET /ops/maintenance?status=disable
func (api *APIHandler) Maintenance(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	action := r.URL.Query().Get("status")
	api.logger.Info("maintenance mode change", zap.String("request.id", requestID), zap.String("maintenance.action", action))

	switch action {
	case "enable":
		notice := r.URL.Query().Get("msg")
		api.mode.enable(notice, api.clock.Now().UTC())
		_, since := api.mode.snapshot()
		api.writeJSON(w, requestID, http.StatusOK, "maintenance", map[string]interface{}{
			"requestid":           requestID,
			"maintenance.started": since,
			"maintenance.message": notice,
			"message":             "maintenance mode is on.",
		})
	case "disable":
		api.mode.disable()
		api.writeJSON(w, requestID, http.StatusOK, "maintenance", map[string]interface{}{
			"requestid": requestID,
			"message":   "maintenance mode is off.",
		})
	default:
		api.writeJSON(w, requestID, http.StatusBadRequest, "maintenance", map[string]interface{}{
			"requestid": requestID,
			"message":   fmt.Sprintf("maintenance status %q is not supported. expected enable or disable.", action),
		})
	}
}

// writeMaintenanceNotice rejects a public request while the maintenance mode is on.
func (api *APIHandler) writeMaintenanceNotice(w http.ResponseWriter, r *http.Request) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	notice, since := api.mode.snapshot()
	api.writeJSON(w, requestID, http.StatusServiceUnavailable, "maintenance notice", map[string]interface{}{
		"requestid": requestID,
		"message":   "books api is under maintenance.",
		"reason":    notice,
		"since":     since,
	})
}

// writeJSON sends a json payload. The kind only labels the failure log.
func (api *APIHandler) writeJSON(w http.ResponseWriter, requestID string, code int, kind string, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		api.logger.Error("failed to send "+kind+" response", zap.String("request.id", requestID), zap.Error(err))
	}
}

var goroutines = expvar.NewInt("goroutines")

// GetMemStats serves the expvar variables, memstats included, with the current goroutines count.
func GetMemStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	goroutines.Set(int64(runtime.NumGoroutine()))
	expvar.Handler().ServeHTTP(w, r)
}

// RunGC triggers a garbage collection in the background.
func (api *APIHandler) RunGC(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	go runtime.GC()
	api.writeJSON(w, GetValueFromContext(r.Context(), RequestIDContextKey), http.StatusOK, "run gc",
		map[string]string{"called": "runtime.GC"})
}

// FreeOSMemory triggers a garbage collection in the background then returns
// as much memory as possible to the operating system.
func (api *APIHandler) FreeOSMemory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	go debug.FreeOSMemory()
	api.writeJSON(w, GetValueFromContext(r.Context(), RequestIDContextKey), http.StatusOK, "free os memory",
		map[string]string{"called": "debug.FreeOSMemory"})
}

// GetStatistics reports build details, storage, uptime, maintenance state and
// the count of responses per status code. The ops request being served is not
// counted.
func (api *APIHandler) GetStatistics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	called := atomic.LoadUint64(&api.stats.called)
	if called > 0 {
		called--
	}
	notice, since := api.mode.snapshot()

	api.stats.mu.RLock()
	defer api.stats.mu.RUnlock()
	api.writeJSON(w, requestID, http.StatusOK, "statistics", map[string]interface{}{
		"requestid":     requestID,
		"app.version":   api.stats.version,
		"app.container": api.stats.container,
		"app.platform":  api.stats.platform,
		"app.storage":   api.storageDriver(),
		"go.version":    api.stats.runtime,
		"called":        called,
		"started":       api.stats.started.Format(time.RFC1123),
		"uptime":        fmt.Sprintf("%.0f mins", api.clock.Now().Sub(api.stats.started).Minutes()),
		"maintenance": map[string]interface{}{
			"enabled": api.mode.enabled.Load(),
			"started": since,
			"message": notice,
		},
		"status": api.stats.status,
	})
}

// GetConfigs serves the running configuration. Credentials are not part of its json form.
func (api *APIHandler) GetConfigs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	api.writeJSON(w, GetValueFromContext(r.Context(), RequestIDContextKey), http.StatusOK, "configs",
		map[string]interface{}{"configs": api.config})
}

func (api *APIHandler) storageDriver() string {
	if api.config == nil {
		return ""
	}
	return api.config.Database.Driver
}
