package api

import "net/http"

// ReadinessProbe reports the tool-server connection state for /ready.
// The connection is lazy, so a disconnected state is informational and never
// fails the probe.
type ReadinessProbe func() string

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readiness(probe ReadinessProbe) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]string{"status": "ready"}
		if probe != nil {
			body["tool_server"] = probe()
		}
		writeJSON(w, http.StatusOK, body)
	})
}
