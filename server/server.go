package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/folionet/foliod/dbaccess"
	"github.com/folionet/foliod/notifications"
	"github.com/folionet/foliod/taskmanager"
)

const gracefulShutdownTimeout = 30 * time.Second

// Server is the thin HTTP/WS front-end over the ingestion core.
type Server struct {
	db          *dbaccess.DatabaseContext
	taskManager *taskmanager.TaskManager
	hub         *notifications.Hub
}

// Start runs an HTTP server in a separate goroutine and returns a function
// to gracefully shut it down.
func Start(
	listenAddr string,
	db *dbaccess.DatabaseContext,
	tm *taskmanager.TaskManager,
	hub *notifications.Hub,
) func() {

	s := &Server{db: db, taskManager: tm, hub: hub}
	router := mux.NewRouter()
	s.addRoutes(router)

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: handleCORSRequests(router),
	}
	spawn(func() {
		log.Infof("Listening on %s", listenAddr)
		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	})

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Warnf("Error shutting down the HTTP server: %s", err)
		}
	}
}

func handleCORSRequests(router *mux.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		router.ServeHTTP(w, r)
	})
}
