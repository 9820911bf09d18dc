// Package coordinator ties the registry, model state and sampler together
// behind the wire protocol. It is the single authority over shared state:
// read-only requests are answered concurrently from snapshots, while the two
// mutations (registry append, model replace) are serialized through one
// mutex. Every request receives exactly one reply; client input can produce
// protocol error replies but never takes the process down.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/msmaccel/accelerd/internal/audit"
	"github.com/msmaccel/accelerd/internal/metrics"
	"github.com/msmaccel/accelerd/internal/modelstate"
	"github.com/msmaccel/accelerd/internal/registry"
	"github.com/msmaccel/accelerd/internal/sampler"
	"github.com/msmaccel/accelerd/internal/transport"
	"github.com/msmaccel/accelerd/internal/wire"
)

// Stable reason codes carried in protocol error replies.
const (
	ReasonDecodeError       = "decode_error"
	ReasonUnknownMsgType    = "unknown_msg_type"
	ReasonBadLocator        = "bad_locator"
	ReasonSamplingExhausted = "sampling_exhausted"
	ReasonUnexpectedMsgType = "unexpected_msg_type"
	ReasonInternalError     = "internal_error"
)

// Coordinator dispatches protocol requests. It implements
// transport.Dispatcher.
type Coordinator struct {
	session  string
	registry *registry.Registry
	models   *modelstate.State
	sampler  *sampler.Sampler
	audit    audit.Emitter
	log      *slog.Logger

	// mu serializes all mutations of shared state: registry appends,
	// model replacement and the round counter. Read paths never take it.
	mu    chan struct{}
	round int
}

// New creates a coordinator with its own session identity.
func New(reg *registry.Registry, models *modelstate.State, smp *sampler.Sampler, em audit.Emitter, log *slog.Logger) *Coordinator {
	if em == nil {
		em = audit.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		session:  uuid.NewString(),
		registry: reg,
		models:   models,
		sampler:  smp,
		audit:    em,
		log:      log,
		mu:       make(chan struct{}, 1),
	}
	metrics.RegistrySize.Set(float64(reg.Len()))
	return c
}

// Session returns the server's session identity, stamped on every reply.
func (c *Coordinator) Session() string { return c.session }

// Round returns the current adaptive sampling round.
func (c *Coordinator) Round() int {
	c.lock()
	defer c.unlock()
	return c.round
}

func (c *Coordinator) lock()   { c.mu <- struct{}{} }
func (c *Coordinator) unlock() { <-c.mu }

// Dispatch handles one raw request and replies exactly once.
func (c *Coordinator) Dispatch(ctx context.Context, raw []byte, h *transport.ClientHandle) {
	start := time.Now()

	req, err := wire.Decode(raw)
	if err != nil {
		reason := ReasonDecodeError
		if errors.Is(err, wire.ErrUnknownType) {
			reason = ReasonUnknownMsgType
		}
		c.log.Warn("Rejecting undecodable message", "client", h.ClientID(), "error", err)
		metrics.RequestsTotal.WithLabelValues("invalid", "error").Inc()
		c.replyError(h, reason, err.Error())
		return
	}
	c.audit.Emit(audit.Entry{Direction: audit.DirectionIn, ClientID: h.ClientID(), Message: req, Raw: raw})
	c.log.Info("Received message", "msg_type", req.Header.MsgType,
		"msg_id", req.Header.MsgID, "session", req.Header.Session)

	var reply wire.Message
	outcome := "ok"
	switch content := req.Content.(type) {
	case wire.RegisterSimulator:
		reply, err = c.handleRegisterSimulator(req)
	case wire.SimulatorDone:
		reply, err = c.handleSimulatorDone(req, content)
	case wire.RegisterModeler:
		reply = c.handleRegisterModeler(req)
	case wire.ModelResult:
		reply, err = c.handleModelResult(req, content)
	default:
		// Structurally valid but not a request the server accepts, e.g. a
		// worker echoing a reply type back.
		err = fmt.Errorf("server does not accept %s", req.Header.MsgType)
		reply = c.errorReply(req, ReasonUnexpectedMsgType, err.Error())
	}
	if err != nil {
		outcome = "error"
	}

	metrics.RequestsTotal.WithLabelValues(req.Header.MsgType, outcome).Inc()
	metrics.RequestDuration.WithLabelValues(req.Header.MsgType).Observe(time.Since(start).Seconds())
	c.send(h, reply)
}

func (c *Coordinator) handleRegisterSimulator(req wire.Message) (wire.Message, error) {
	seed, err := c.sampler.NextSeed(c.models.Current())
	if err != nil {
		if errors.Is(err, sampler.ErrSamplingExhausted) {
			return c.errorReply(req, ReasonSamplingExhausted, err.Error()), err
		}
		return c.errorReply(req, ReasonInternalError, err.Error()), err
	}
	origin := "model"
	if seed.Origin == wire.OriginInitial {
		origin = wire.OriginInitial
	}
	metrics.SeedsIssued.WithLabelValues(origin).Inc()
	c.log.Info("Issued seed", "seed_id", seed.SeedID, "origin", seed.Origin,
		"session", req.Header.Session)
	return wire.NewReply(c.session, req, seed), nil
}

func (c *Coordinator) handleSimulatorDone(req wire.Message, done wire.SimulatorDone) (wire.Message, error) {
	if err := done.Locator.Validate(); err != nil {
		return c.errorReply(req, ReasonBadLocator, err.Error()), err
	}

	c.lock()
	rec := registry.Record{
		TrajectoryID: done.TrajectoryID,
		SeedID:       done.SeedID,
		Locator:      done.Locator,
		ProducedBy:   req.Header.Session,
		Round:        c.round,
	}
	err := c.registry.Append(rec)
	c.unlock()

	switch {
	case err == nil:
		metrics.TrajectoriesRegistered.Inc()
		metrics.RegistrySize.Set(float64(c.registry.Len()))
		c.log.Info("Registered trajectory", "trajectory_id", done.TrajectoryID,
			"round", rec.Round, "session", req.Header.Session)
	case errors.Is(err, registry.ErrDuplicate):
		// A simulator resending after a lost reply. Same outcome for it.
		metrics.DuplicateReports.Inc()
		c.log.Info("Absorbed duplicate trajectory report",
			"trajectory_id", done.TrajectoryID, "session", req.Header.Session)
	default:
		return c.errorReply(req, ReasonInternalError, err.Error()), err
	}
	return wire.NewReply(c.session, req, wire.Acknowledge{Status: "ok"}), nil
}

func (c *Coordinator) handleRegisterModeler(req wire.Message) wire.Message {
	snapshot := c.registry.Snapshot()
	entries := make([]wire.TrajectoryEntry, len(snapshot))
	for i, rec := range snapshot {
		entries[i] = wire.TrajectoryEntry{
			TrajectoryID: rec.TrajectoryID,
			Locator:      rec.Locator,
			Round:        rec.Round,
		}
	}
	c.log.Info("Issued trajectory list", "count", len(entries), "session", req.Header.Session)
	return wire.NewReply(c.session, req, wire.TrajectoryList{Trajectories: entries})
}

func (c *Coordinator) handleModelResult(req wire.Message, result wire.ModelResult) (wire.Message, error) {
	c.lock()
	err := c.models.Set(result, c.round, req.Header.Session)
	if err == nil {
		c.round++
		metrics.CurrentRound.Set(float64(c.round))
	}
	round := c.round
	c.unlock()

	if err != nil {
		return c.errorReply(req, ReasonInternalError, err.Error()), err
	}
	metrics.ModelsAccepted.Inc()
	c.log.Info("Accepted model result", "model_id", result.ModelID,
		"states", result.StateCount, "round", round, "session", req.Header.Session)
	return wire.NewReply(c.session, req, wire.Acknowledge{Status: "ok"}), nil
}

func (c *Coordinator) errorReply(req wire.Message, reason, detail string) wire.Message {
	return wire.NewReply(c.session, req, wire.ErrorContent{Reason: reason, Detail: detail})
}

// replyError answers a request that never decoded; there is no parent header
// to chain to.
func (c *Coordinator) replyError(h *transport.ClientHandle, reason, detail string) {
	c.send(h, wire.NewMessage(c.session, wire.ErrorContent{Reason: reason, Detail: detail}))
}

func (c *Coordinator) send(h *transport.ClientHandle, reply wire.Message) {
	raw, err := wire.Encode(reply)
	if err != nil {
		// Replies are constructed server-side; failing to encode one is a
		// bug, but the worker still deserves an answer.
		c.log.Error("Failed to encode reply", "error", err)
		fallback := wire.NewMessage(c.session, wire.ErrorContent{Reason: ReasonInternalError})
		if err := h.Reply(fallback); err != nil {
			c.log.Error("Failed to send fallback reply", "error", err)
		}
		return
	}
	c.audit.Emit(audit.Entry{Direction: audit.DirectionOut, ClientID: h.ClientID(), Message: reply, Raw: raw})
	if err := h.Reply(reply); err != nil {
		c.log.Error("Failed to send reply", "msg_id", reply.Header.MsgID, "error", err)
	}
}
