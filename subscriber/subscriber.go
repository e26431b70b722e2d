// Package subscriber implements the subscriber-facing surfaces: the HTTP
// status-snapshot handler and the WebSocket follow endpoint.
package subscriber

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/cotrans/gateway/blobstore"
	"github.com/cotrans/gateway/scheduler"
	"github.com/cotrans/gateway/store"
	"github.com/cotrans/gateway/wire"
)

type Handler struct {
	Scheduler *scheduler.Scheduler
	Blob      blobstore.Store
	Log       *logrus.Logger

	upgrader websocket.Upgrader
}

func New(sched *scheduler.Scheduler, blob blobstore.Store, log *logrus.Logger) *Handler {
	return &Handler{
		Scheduler: sched,
		Blob:      blob,
		Log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// toWireMessage renders a scheduler.ProgressMessage as the subscriber-facing
// JSON envelope, rewriting any mask key to a public URL.
func (h *Handler) toWireMessage(m scheduler.ProgressMessage) wire.QueryMessage {
	switch v := m.(type) {
	case scheduler.Pending:
		return wire.QueryPending(v.Position)
	case scheduler.Status:
		return wire.QueryStatus(v.Phase)
	case scheduler.ProgressResult:
		return wire.QueryResultMsg(h.Blob.PublicURL(v.MaskKey))
	case scheduler.ProgressError:
		return wire.QueryErrorRetry(v.RetryWillHappen)
	default:
		return wire.QueryNotFound()
	}
}

// dbSnapshot answers from the DB when there is no live Registry entry, used
// by both the snapshot and follow endpoints.
func (h *Handler) dbSnapshot(ctx context.Context, taskID string) (wire.QueryMessage, error) {
	row, err := h.Scheduler.Store.GetTask(ctx, taskID)
	if err != nil {
		return wire.QueryMessage{}, err
	}
	if row == nil {
		return wire.QueryNotFound(), nil
	}
	switch row.State {
	case store.TaskDone:
		if row.TranslationMask == nil {
			return wire.QueryNotFound(), nil
		}
		return wire.QueryResultMsg(h.Blob.PublicURL(*row.TranslationMask)), nil
	case store.TaskError:
		// An error row with no live Registry entry is not being retried, so
		// it is reported as a failure with retry outcome "false".
		return wire.QueryErrorRetry(false), nil
	default:
		return wire.QueryNotFound(), nil
	}
}

func newErrorID() string {
	return uuid.NewString()
}

// Status implements GET /task/{id}/status/v1.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	if ch, ok := h.Scheduler.Registry.Lookup(taskID); ok {
		val, _, _ := ch.Snapshot()
		writeJSON(w, http.StatusOK, h.toWireMessage(val))
		return
	}

	msg, err := h.dbSnapshot(r.Context(), taskID)
	if err != nil {
		writeInternalError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// Follow implements GET /task/{id}/event/v1, upgrading to WebSocket.
func (h *Handler) Follow(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.WithError(err).Warn("subscriber: upgrade failed")
		return
	}
	defer conn.Close()

	ch, ok := h.Scheduler.Registry.Lookup(taskID)
	if !ok {
		msg, err := h.dbSnapshot(r.Context(), taskID)
		if err != nil {
			writeInternalErrorWS(conn, h.Log, err)
			return
		}
		_ = writeWS(conn, msg)
		return
	}

	val, closed, changed := ch.Snapshot()
	if err := writeWS(conn, h.toWireMessage(val)); err != nil {
		return
	}
	if closed {
		return
	}

	// Forward client frames (pings are handled transparently by gorilla;
	// anything else we just drain) while following channel changes.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-changed:
			val, closed, changed = ch.Snapshot()
			if err := writeWS(conn, h.toWireMessage(val)); err != nil {
				return
			}
			if closed {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeWS(conn *websocket.Conn, msg wire.QueryMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(msg)
}

func writeInternalErrorWS(conn *websocket.Conn, log *logrus.Logger, err error) {
	id := newErrorID()
	log.WithError(err).WithField("error_id", id).Error("subscriber: internal error")
	_ = writeWS(conn, wire.QueryErrorInternal(id))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeInternalError(w http.ResponseWriter, log *logrus.Logger, err error) {
	id := newErrorID()
	log.WithError(err).WithField("error_id", id).Error("subscriber: internal error")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error_id": id})
}
