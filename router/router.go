// Package router registers all HTTP endpoints using vanilla net/http (Go 1.22+ mux).
package router

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/cotrans/gateway/auth"
	"github.com/cotrans/gateway/blobstore"
	"github.com/cotrans/gateway/ingest"
	"github.com/cotrans/gateway/metrics"
	"github.com/cotrans/gateway/middleware"
	"github.com/cotrans/gateway/mitworker"
	"github.com/cotrans/gateway/scheduler"
	"github.com/cotrans/gateway/store"
	"github.com/cotrans/gateway/subscriber"
)

// Deps holds all dependencies for the router.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Store      store.Store
	Blob       blobstore.Store
	Metrics    *metrics.Registry
	Log        *logrus.Logger
	JWTSecret  []byte
	WorkerWS   *mitworker.Server
	Subscriber *subscriber.Handler
}

// New builds and returns the application HTTP handler.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	registerTaskRoutes(mux, d)
	registerSubscriberRoutes(mux, d)
	registerAdminRoutes(mux, d)
	mux.Handle("GET /mit/worker_ws", d.WorkerWS)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestLog(d.Log)(mux)
}

// registerTaskRoutes implements the three task-creation endpoints. PUT means
// "use cached result if present", POST means "force retry", per the
// simplified Open Question resolution on the retry flag.
func registerTaskRoutes(mux *http.ServeMux, d Deps) {
	upload := func(retry bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) { handleUpload(w, r, d, retry) }
	}
	remote := func(retry bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) { handleRemote(w, r, d, retry) }
	}

	mux.HandleFunc("PUT /task/upload/v1", upload(false))
	mux.HandleFunc("POST /task/upload/v1", upload(true))
	mux.HandleFunc("PUT /task/twitter/v1", remote(false))
	mux.HandleFunc("POST /task/twitter/v1", remote(true))
	mux.HandleFunc("PUT /task/pixiv/v1", remote(false))
	mux.HandleFunc("POST /task/pixiv/v1", remote(true))
}

const maxUploadBytes = 16 << 20

func handleUpload(w http.ResponseWriter, r *http.Request, d Deps, retry bool) {
	param, err := paramFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "missing or unreadable image body")
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}

	sourceImageID, err := ingest.StoreUpload(r.Context(), d.Blob, data)
	if err != nil {
		writeInternalError(w, d.Log, err)
		return
	}

	dispatch(w, r, d, sourceImageID, param, retry)
}

func handleRemote(w http.ResponseWriter, r *http.Request, d Deps, retry bool) {
	param, err := paramFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	imageURL := r.URL.Query().Get("image_url")
	if imageURL == "" {
		writeError(w, http.StatusBadRequest, "missing image_url")
		return
	}

	sourceImageID, err := ingest.FetchRemote(r.Context(), d.Blob, imageURL)
	if err != nil {
		writeInternalError(w, d.Log, err)
		return
	}

	dispatch(w, r, d, sourceImageID, param, retry)
}

func dispatch(w http.ResponseWriter, r *http.Request, d Deps, sourceImageID string, param scheduler.Param, retry bool) {
	snap, err := d.Scheduler.UpsertAndDispatch(r.Context(), sourceImageID, param, retry)
	if err != nil {
		writeInternalError(w, d.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(d, snap))
}

// taskResponse renders a Snapshot as the task-creation response body, with
// status derived from the concrete ProgressMessage type so a client can tell
// a freshly-queued task from a cached done/error result without a follow-up
// call.
func taskResponse(d Deps, snap scheduler.Snapshot) map[string]any {
	body := map[string]any{"id": snap.TaskID, "result": nil}
	switch v := snap.Value.(type) {
	case scheduler.Pending:
		body["status"] = "pending"
	case scheduler.Status:
		body["status"] = "running"
	case scheduler.ProgressResult:
		body["status"] = "done"
		body["result"] = map[string]string{"translation_mask": d.Blob.PublicURL(v.MaskKey)}
	case scheduler.ProgressError:
		body["status"] = "error"
	default:
		body["status"] = "pending"
	}
	return body
}

func paramFromQuery(r *http.Request) (scheduler.Param, error) {
	q := r.URL.Query()
	return scheduler.NewParam(
		q.Get("target_language"),
		q.Get("detector"),
		q.Get("direction"),
		q.Get("translator"),
		q.Get("size"),
	)
}

func registerSubscriberRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("GET /task/{id}/status/v1", d.Subscriber.Status)
	mux.HandleFunc("GET /task/{id}/event/v1", d.Subscriber.Follow)
}

// registerAdminRoutes exposes a small operator surface (queue depth, manual
// requeue) gated by the retained JWT/session machinery, plus the login
// endpoint that issues those tokens.
func registerAdminRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("POST /admin/login", func(w http.ResponseWriter, r *http.Request) {
		handleLogin(w, r, d)
	})

	adminOnly := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAuth(d.JWTSecret)(middleware.RequireAdmin()(h))
	}

	mux.Handle("GET /admin/queue", adminOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"queue_length": d.Scheduler.Queue.Len()})
	}))

	mux.Handle("POST /admin/task/{id}/requeue", adminOnly(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, ok := d.Scheduler.Registry.Lookup(id); !ok {
			writeError(w, http.StatusNotFound, "task not tracked in memory")
			return
		}
		if !d.Scheduler.Requeue(id) {
			writeError(w, http.StatusConflict, "task is not currently waiting in queue")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
	}))
}

func handleLogin(w http.ResponseWriter, r *http.Request, d Deps) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	u, err := d.Store.GetUserByUsername(r.Context(), body.Username)
	if err != nil {
		writeInternalError(w, d.Log, err)
		return
	}
	if u == nil || !auth.CheckPassword(u.PasswordHash, body.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	refreshTok, err := auth.GenerateRefreshToken()
	if err != nil {
		writeInternalError(w, d.Log, err)
		return
	}
	sess, err := d.Store.CreateSession(r.Context(), u.ID, refreshTok, time.Now().Add(30*24*time.Hour))
	if err != nil {
		writeInternalError(w, d.Log, err)
		return
	}
	token, err := auth.IssueAccessToken(d.JWTSecret, u.ID, sess.ID, u.Role)
	if err != nil {
		writeInternalError(w, d.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  token,
		"refresh_token": refreshTok,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeInternalError(w http.ResponseWriter, log *logrus.Logger, err error) {
	log.WithError(err).Error("router: internal error")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
