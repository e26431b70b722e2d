package mitworker

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/cotrans/gateway/scheduler"
	"github.com/cotrans/gateway/wire"
)

var errTransport = errors.New("mit worker: transport error")

// session is one worker session: the gateway's half of a persistent
// connection to one remote translation worker.
type session struct {
	server *Server
	conn   *websocket.Conn
	log    *logrus.Logger
}

// run drives the Idle/Executing state machine until the connection closes
// or a transport error occurs.
func (sess *session) run(ctx context.Context) {
	frames := make(chan wire.WorkerFrame, 1)
	readErr := make(chan error, 1)
	go sess.readLoop(frames, readErr)

	sched := sess.server.Scheduler

	for {
		task, ch, ok := sched.Queue.PopFront()
		if !ok {
			n, wake := sched.Queue.PeekWake()
			if n > 0 {
				continue
			}
			select {
			case <-wake:
				continue
			case err := <-readErr:
				sess.log.WithError(err).Info("mit worker: session ended while idle")
				return
			case <-frames:
				// No protocol message is expected while idle; drop it.
				continue
			case <-ctx.Done():
				return
			}
		}

		sched.Queue.Renumber()

		started := time.Now()
		if err := sess.execute(ctx, sched, task, ch, started, frames, readErr); err != nil {
			sched.ExecuteFail(ctx, task, ch)
			if errors.Is(err, errTransport) {
				return
			}
		}
	}
}

// execute runs one task through the Executing protocol's status and finish
// steps.
func (sess *session) execute(ctx context.Context, sched *scheduler.Scheduler, task *scheduler.Task, ch *scheduler.Channel, started time.Time, frames <-chan wire.WorkerFrame, readErr <-chan error) error {
	if err := sched.ExecuteBegin(ctx, task, ch); err != nil {
		return err
	}

	msg := wire.NewTask(task.ID, task.SourceImageBytes,
		string(task.Param.TargetLanguage), string(task.Param.Detector),
		string(task.Param.Direction), string(task.Param.Translator), string(task.Param.Size))
	payload, err := wire.EncodeNewTask(msg)
	if err != nil {
		return err
	}
	if err := sess.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return errTransport
	}

	timeout := sess.server.InactivityTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	for {
		timer := time.NewTimer(timeout)
		select {
		case <-timer.C:
			return errTransport
		case err := <-readErr:
			timer.Stop()
			sess.log.WithError(err).WithField("task_id", task.ID).Info("mit worker: socket error during execution")
			return errTransport
		case frame := <-frames:
			timer.Stop()
			switch {
			case frame.Status != nil:
				if frame.Status.ID != task.ID {
					sess.log.WithFields(logrus.Fields{"expected": task.ID, "got": frame.Status.ID}).Warn("mit worker: status for mismatched task id, ignoring")
					continue
				}
				sched.ExecuteStatus(ch, frame.Status.Status)
			case frame.FinishTask != nil:
				if frame.FinishTask.ID != task.ID {
					sess.log.WithFields(logrus.Fields{"expected": task.ID, "got": frame.FinishTask.ID}).Warn("mit worker: finish for mismatched task id, ignoring")
					continue
				}
				return sched.ExecuteFinish(ctx, task, ch, frame.FinishTask.TranslationMask, started)
			}
		case <-ctx.Done():
			timer.Stop()
			return errTransport
		}
	}
}

// readLoop continuously reads frames off the connection. Control frames
// (ping/pong/close) are handled by gorilla's default handlers — ping auto-
// replies with pong — so only binary data frames reach the frames channel.
// Exits (and signals readErr) when the connection errors or closes.
func (sess *session) readLoop(frames chan<- wire.WorkerFrame, readErr chan<- error) {
	for {
		mt, data, err := sess.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		frame, err := wire.DecodeWorkerFrame(data)
		if err != nil {
			sess.log.WithError(err).Warn("mit worker: malformed frame, ignoring")
			continue
		}
		frames <- frame
	}
}
