package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livecast/ad-transcoder/config"
	"github.com/livecast/ad-transcoder/log"
	"github.com/livecast/ad-transcoder/pipeline"
)

// ListenAndServeInternal runs the internal observability server: healthcheck,
// coordinator group snapshots and prometheus metrics. Nothing here is part of
// the public surface.
func ListenAndServeInternal(ctx context.Context, addr string, coordinator *pipeline.Coordinator) error {
	router := NewInternalRouter(coordinator)
	server := http.Server{Addr: addr, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoRequestID(
		"Starting ad-transcoder internal API!",
		"version", config.Version,
		"host", addr,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewInternalRouter(coordinator *pipeline.Coordinator) *httprouter.Router {
	router := httprouter.New()
	router.GET("/ok", Healthcheck())
	router.GET("/groups", ListGroups(coordinator))
	router.GET("/status/:groupID", GroupStatus(coordinator))
	router.Handler("GET", "/metrics", promhttp.Handler())
	return router
}

type HealthcheckResponse struct {
	Status string `json:"status"`
}

func Healthcheck() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, HealthcheckResponse{Status: "healthy"})
	}
}

// ListGroups serves snapshots of every job group the coordinator is tracking.
func ListGroups(coordinator *pipeline.Coordinator) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, coordinator.Groups())
	}
}

// GroupStatus serves a read-only snapshot of one job group's fan-in progress.
func GroupStatus(coordinator *pipeline.Coordinator) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		groupID := params.ByName("groupID")
		snapshot, found := coordinator.GroupStatus(groupID)
		if !found {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job group"})
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.LogNoRequestID("Failed to write HTTP response", "err", err.Error())
	}
}
