// Package dispatch routes task results back to websocket clients.
//
// A single Dispatcher sits behind whichever result source the deployment
// uses: the direct bridge calls HandleResult from the runner goroutine, the
// queued variant calls it from the result consumer. The frame a client sees
// is identical either way.
package dispatch

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/dcstrange/websocket-push-system/internal/correlator"
	"github.com/dcstrange/websocket-push-system/internal/metrics"
	"github.com/dcstrange/websocket-push-system/internal/protocol"
	"github.com/dcstrange/websocket-push-system/internal/tasks"
)

// Sender delivers encoded frames to connections. Satisfied by hub.Hub.
type Sender interface {
	SendToUser(userID string, data []byte) int
	SendToConnection(connID uuid.UUID, data []byte) bool
}

type Dispatcher struct {
	sender     Sender
	correlator *correlator.Correlator
}

func New(sender Sender, corr *correlator.Correlator) *Dispatcher {
	return &Dispatcher{sender: sender, correlator: corr}
}

// HandleResult translates one task result into a client frame and delivers
// it. Results with no pending correlation are dropped: the owning connection
// is gone and nobody is waiting. Dropping is not an error.
func (d *Dispatcher) HandleResult(res tasks.Result) {
	switch res.Kind {
	case tasks.ResultAccepted:
		route, ok := d.correlator.Accepted(res.RequestID)
		if !ok {
			d.drop(res)
			return
		}
		frame := protocol.MustEncode(protocol.NewRequestAccepted(res.RequestID, res.TaskID, res.Message))
		if !d.sender.SendToConnection(route.ConnID, frame) {
			slog.Debug("acceptance not delivered, connection gone",
				"request_id", res.RequestID, "conn_id", route.ConnID)
		}

	case tasks.ResultData:
		if res.Batch == nil {
			slog.Warn("data result without batch dropped", "request_id", res.RequestID)
			metrics.DroppedResultsTotal.Inc()
			return
		}
		route, ok := d.correlator.Data(res.RequestID, res.Batch.IsFinal)
		if !ok {
			d.drop(res)
			return
		}
		frame := protocol.MustEncode(protocol.NewData(res.RequestID, *res.Batch))
		if delivered := d.sender.SendToUser(route.UserID, frame); delivered == 0 {
			metrics.FanoutNoConnectionTotal.Inc()
		}

	case tasks.ResultError:
		route, ok := d.correlator.Error(res.RequestID)
		if !ok {
			d.drop(res)
			return
		}
		frame := protocol.MustEncode(protocol.NewError(res.RequestID, res.Message))
		d.sender.SendToUser(route.UserID, frame)

	default:
		slog.Warn("result with unknown kind dropped", "kind", res.Kind, "request_id", res.RequestID)
		metrics.DroppedResultsTotal.Inc()
	}
}

func (d *Dispatcher) drop(res tasks.Result) {
	slog.Debug("result without pending correlation dropped",
		"kind", res.Kind, "request_id", res.RequestID, "task_id", res.TaskID)
	metrics.DroppedResultsTotal.Inc()
}
