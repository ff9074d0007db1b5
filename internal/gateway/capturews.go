// ABOUTME: Live UTSC capture endpoint streaming spectrum frames to a websocket subscriber
// ABOUTME: Parses capture parameters from the query string and runs one session per socket

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/svdleer/PyPNMGui-sub000/internal/store"
	"github.com/svdleer/PyPNMGui-sub000/internal/transport"
	"github.com/svdleer/PyPNMGui-sub000/internal/utsc"
)

// wsSink delivers stream messages as JSON text frames.
type wsSink struct {
	conn *transport.WSConn
}

func (s wsSink) Send(msg utsc.StreamMessage) error {
	return s.conn.SendJSON(msg)
}

// captureQuery reads query parameters, remembering the first parse failure.
type captureQuery struct {
	values url.Values
	err    error
}

// intParam returns the first present key among names parsed as an int, or def.
func (q *captureQuery) intParam(def int, names ...string) int {
	return int(q.int64Param(int64(def), names...))
}

func (q *captureQuery) int64Param(def int64, names ...string) int64 {
	for _, name := range names {
		raw := q.values.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			if q.err == nil {
				q.err = fmt.Errorf("invalid %s: %q", name, raw)
			}
			return def
		}
		return n
	}
	return def
}

func (q *captureQuery) stringParam(def, name string) string {
	if v := q.values.Get(name); v != "" {
		return v
	}
	return def
}

// parseCaptureRequest builds a capture request from the path MAC and query.
func parseCaptureRequest(mac string, values url.Values) (utsc.Request, error) {
	q := &captureQuery{values: values}
	p := utsc.DefaultParams()

	p.MAC = mac
	p.CMTSIP = q.stringParam(p.CMTSIP, "cmts_ip")
	p.Community = q.stringParam("", "community")
	p.RFPortIfIndex = q.intParam(p.RFPortIfIndex, "rf_port", "rf_port_ifindex")
	p.LogicalChIfIndex = q.intParam(p.LogicalChIfIndex, "logical_ch_ifindex")
	p.TriggerMode = utsc.TriggerMode(q.intParam(int(p.TriggerMode), "trigger_mode"))
	p.CenterFreqHz = q.int64Param(p.CenterFreqHz, "center_freq_hz")
	p.SpanHz = q.int64Param(p.SpanHz, "span_hz")
	p.NumBins = q.intParam(p.NumBins, "num_bins")
	p.OutputFormat = utsc.OutputFormat(q.intParam(int(p.OutputFormat), "output_format"))
	p.Window = utsc.Window(q.intParam(int(p.Window), "window"))
	p.Filename = q.stringParam("", "filename")
	p.RepeatPeriodMs = q.intParam(p.RepeatPeriodMs, "repeat_period_ms")
	p.FreerunDurationMs = q.intParam(p.FreerunDurationMs, "freerun_duration_ms")
	p.TriggerCount = q.intParam(p.TriggerCount, "trigger_count")

	refreshMs := q.intParam(0, "refresh", "refresh_ms")
	durationS := q.intParam(0, "duration", "duration_s")
	if q.err != nil {
		return utsc.Request{}, q.err
	}

	return utsc.Request{
		Params:          p,
		Duration:        time.Duration(durationS) * time.Second,
		RefreshInterval: time.Duration(refreshMs) * time.Millisecond,
		AgentID:         values.Get("agent_id"),
	}, nil
}

// handleCaptureWS handles GET /ws/utsc/{mac}.
func (g *Gateway) handleCaptureWS(w http.ResponseWriter, r *http.Request) {
	req, err := parseCaptureRequest(r.PathValue("mac"), r.URL.Query())
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ws, err := transport.Upgrade(w, r)
	if err != nil {
		g.logger.Warn("capture websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribers send nothing we act on; a read failure means they left.
	go func() {
		defer cancel()
		for {
			if _, err := ws.Recv(); err != nil && !transport.IsDecodeError(err) {
				return
			}
		}
	}()

	sess := g.captures.NewSession(req, wsSink{conn: ws})
	logger := g.logger.With("session_id", sess.ID, "mac", req.Params.MAC)
	logger.Info("capture subscriber connected", "remote_addr", ws.RemoteAddr())

	g.audit.record(store.AuditCaptureStarted, req.AgentID, sess.ID, ws.RemoteAddr(), map[string]any{
		"mac":     req.Params.MAC,
		"cmts_ip": req.Params.CMTSIP,
		"rf_port": req.Params.RFPortIfIndex,
	})

	runErr := g.captures.Run(ctx, sess)
	if runErr != nil {
		logger.Warn("capture session failed", "error", runErr)
	}

	g.audit.record(store.AuditCaptureFinished, req.AgentID, sess.ID, ws.RemoteAddr(), map[string]any{
		"mac":      req.Params.MAC,
		"cmts_ip":  req.Params.CMTSIP,
		"reason":   sess.Reason(),
		"triggers": sess.Triggers(),
	})
	logger.Info("capture subscriber finished", "reason", sess.Reason(), "triggers", sess.Triggers())

	_ = ws.Close(transport.CloseNormal, sess.Reason())
}
