package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/bhumitgoyal/convo-legal-mistral/pkg/audit"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/httpx"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/metrics"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/negotiation"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/oracle"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/stream"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/verdict"
)

type negotiateRequest struct {
	NegotiationID string `json:"negotiation_id"`
	Speaker       string `json:"speaker"`
	Message       string `json:"message"`
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	if s.RateLimitEnabled && s.RateLimiter != nil {
		decision := s.RateLimiter.Allow(clientIP(r), s.RateLimitPerMinute)
		if !decision.Allowed {
			httpx.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req negotiateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "Invalid request format")
		return
	}
	if strings.TrimSpace(req.Speaker) == "" || strings.TrimSpace(req.Message) == "" {
		httpx.Error(w, 400, "Missing required fields: 'speaker' and 'message' are required")
		return
	}
	if !negotiation.ValidSpeaker(req.Speaker) {
		httpx.Error(w, 400, "Speaker must be either 'user1' or 'user2'")
		return
	}

	var sess *negotiation.Session
	if req.NegotiationID == "" {
		sess = s.Store.Create()
		s.Audit.RecordEvent(sess.ID(), audit.EventCreated)
		s.publish(stream.NewEvent(stream.EventNegotiationCreated, sess.ID(), nil))
	} else {
		var found bool
		sess, found = s.Store.Get(req.NegotiationID)
		if !found {
			httpx.Error(w, 404, fmt.Sprintf("Negotiation with ID %s not found", req.NegotiationID))
			return
		}
	}

	progress, err := sess.Append(req.Speaker, req.Message)
	if err != nil {
		var quotaErr *negotiation.QuotaError
		switch {
		case errors.As(err, &quotaErr):
			httpx.Error(w, 400, quotaErr.Error())
		case errors.Is(err, negotiation.ErrInvalidSpeaker):
			httpx.Error(w, 400, "Speaker must be either 'user1' or 'user2'")
		default:
			httpx.Error(w, 500, err.Error())
		}
		return
	}
	s.Audit.RecordMessage(sess.ID(), req.Speaker, req.Message)
	s.publish(stream.NewEvent(stream.EventMessageAdded, sess.ID(), map[string]interface{}{
		"speaker":       req.Speaker,
		"messages_sent": progress.Total,
	}))

	if progress.Completed {
		v := s.synthesizeVerdict(r.Context(), sess, progress.Transcript)
		httpx.WriteJSON(w, 200, map[string]interface{}{
			"negotiation_id": sess.ID(),
			"status":         negotiation.StatusCompleted,
			"verdict":        v,
		})
		return
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"negotiation_id":     sess.ID(),
		"status":             negotiation.StatusInProgress,
		"messages_sent":      progress.Total,
		"user1_messages":     progress.User1,
		"user2_messages":     progress.User2,
		"messages_remaining": progress.Remaining,
	})
}

func (s *Server) handleGetNegotiation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "negotiation_id")
	sess, found := s.Store.Get(id)
	if !found {
		httpx.Error(w, 404, "Negotiation not found")
		return
	}
	snap := sess.Snapshot()
	resp := map[string]interface{}{
		"negotiation_id":     snap.ID,
		"status":             snap.Status,
		"messages_sent":      snap.Total,
		"user1_messages":     snap.User1,
		"user2_messages":     snap.User2,
		"messages_remaining": snap.Remaining,
		"messages":           snap.Messages,
	}
	if snap.Status == negotiation.StatusCompleted {
		if snap.Verdict != nil {
			resp["verdict"] = *snap.Verdict
		} else {
			// The completing request failed before attaching a verdict;
			// synthesize once now and cache it on the session.
			resp["verdict"] = s.synthesizeVerdict(r.Context(), sess, snap.Messages)
		}
	}
	httpx.WriteJSON(w, 200, resp)
}

func (s *Server) handleCloseNegotiation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "negotiation_id")
	if !s.Store.Delete(id) {
		httpx.Error(w, 404, "Negotiation not found")
		return
	}
	httpx.WriteJSON(w, 200, map[string]string{"negotiation_id": id, "status": "closed"})
}

func (s *Server) handleNegotiationAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "negotiation_id")
	if _, found := s.Store.Get(id); !found {
		httpx.Error(w, 404, "Negotiation not found")
		return
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"negotiation_id": id,
		"records":        s.Audit.For(id),
	})
}

// synthesizeVerdict produces the session verdict exactly once. The oracle is
// called without holding the session lock; the result is attached afterwards
// so terminal sessions never re-invoke the oracle.
func (s *Server) synthesizeVerdict(ctx context.Context, sess *negotiation.Session, transcript []negotiation.Message) verdict.Result {
	if snap := sess.Snapshot(); snap.Verdict != nil {
		return *snap.Verdict
	}

	digest := transcriptDigest(transcript)
	if s.Cache != nil {
		if cached, err := s.Cache.Get(ctx, digest); err == nil {
			var v verdict.Result
			if json.Unmarshal([]byte(cached), &v) == nil && v.Summary != "" && v.Compromise != "" {
				s.Metrics.IncOutcome(metrics.OutcomeCacheHit)
				s.finishVerdict(ctx, sess, v)
				return v
			}
		}
	}

	callCtx := ctx
	if s.OracleTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.OracleTimeout)
		defer cancel()
	}
	start := time.Now()
	raw, err := s.Oracle.RequestVerdict(callCtx, transcript)
	s.Metrics.ObserveOracleLatency(time.Since(start))
	if err != nil {
		s.Metrics.IncOutcome(metrics.OutcomeOracleError)
		v := degradedVerdict(err)
		s.finishVerdict(ctx, sess, v)
		return v
	}

	v := verdict.Extract(raw)
	if v == verdict.Fallback() {
		s.Metrics.IncOutcome(metrics.OutcomeParseFallback)
	} else {
		s.Metrics.IncOutcome(metrics.OutcomeOK)
		if s.Cache != nil {
			if encoded, err := json.Marshal(v); err == nil {
				_ = s.Cache.Set(ctx, digest, string(encoded), s.VerdictCacheTTL)
			}
		}
	}
	s.finishVerdict(ctx, sess, v)
	return v
}

func (s *Server) finishVerdict(ctx context.Context, sess *negotiation.Session, v verdict.Result) {
	sess.AttachVerdict(v)
	s.Audit.RecordEvent(sess.ID(), audit.EventCompleted)
	s.publish(stream.NewEvent(stream.EventNegotiationCompleted, sess.ID(), v))
	if s.Bus != nil {
		if err := s.Bus.Publish(ctx, sess.ID(), v); err != nil {
			logPrintf("verdict bus publish failed for %s: %v", sess.ID(), err)
		}
	}
}

// degradedVerdict recovers an oracle failure into a well-formed verdict
// carrying the failure detail, mirroring how parse failures degrade.
func degradedVerdict(err error) verdict.Result {
	var statusErr *oracle.StatusError
	if errors.As(err, &statusErr) {
		return verdict.Result{
			Summary:    "API request failed.",
			Compromise: fmt.Sprintf("Status code: %d. Error: %s", statusErr.StatusCode, statusErr.Body),
		}
	}
	return verdict.Result{
		Summary:    "Error generating verdict.",
		Compromise: fmt.Sprintf("An error occurred: %v", err),
	}
}

func transcriptDigest(transcript []negotiation.Message) string {
	h := sha256.New()
	for _, m := range transcript {
		h.Write([]byte(m.Speaker))
		h.Write([]byte{0})
		h.Write([]byte(m.Text))
		h.Write([]byte{0})
	}
	return "verdict:" + hex.EncodeToString(h.Sum(nil))
}

func (s *Server) publish(evt stream.Event) {
	if s.Events != nil {
		s.Events.Publish(evt)
	}
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, 503, "stream unavailable")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", "", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	if strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body")
	return nil, false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
