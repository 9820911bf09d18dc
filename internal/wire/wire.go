// Package wire defines the message envelope and typed payloads exchanged
// between the coordination server and its workers.
//
// The envelope format follows the IPython messaging convention: a header
// carrying msg_id, msg_type and session, an optional parent_header copied
// from the request a reply answers, and a type-specific content object.
// Decoding fails closed: a payload that does not match its declared type's
// schema is rejected whole, never partially accepted.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message types understood by the protocol. Requests originate from workers,
// replies from the server; the server never initiates a message.
const (
	TypeRegisterSimulator = "register_simulator"
	TypeSeedAssignment    = "seed_assignment"
	TypeSimulatorDone     = "simulator_done"
	TypeRegisterModeler   = "register_modeler"
	TypeTrajectoryList    = "trajectory_list"
	TypeModelResult       = "model_result"
	TypeError             = "error"
	TypeAcknowledge       = "acknowledge"
)

// OriginInitial marks a seed drawn from the configured initial pool rather
// than from a model.
const OriginInitial = "initial"

// ErrDecode is wrapped by all decode failures.
var ErrDecode = errors.New("wire: decode error")

// ErrUnknownType is wrapped when the envelope names a msg_type outside the
// closed set above.
var ErrUnknownType = errors.New("wire: unknown msg_type")

// Header identifies a single message. Time is stamped in UTC so encoding is
// stable regardless of the host timezone.
type Header struct {
	MsgID   string    `json:"msg_id"`
	MsgType string    `json:"msg_type"`
	Session string    `json:"session"`
	Time    time.Time `json:"time"`
}

// Message is the wire envelope. ParentHeader is nil on requests and carries
// the triggering request's header on replies, so audit consumers can chain
// causally related messages even when transport interleaves conversations.
type Message struct {
	Header       Header  `json:"header"`
	ParentHeader *Header `json:"parent_header"`
	Content      Content `json:"content"`
}

// Content is implemented by every payload variant. The set is closed; decode
// rejects any msg_type without a registered variant.
type Content interface {
	MsgType() string
}

// Locator names a stored artifact by protocol tag and path. The server never
// inspects the artifact; it only ferries the locator between workers.
type Locator struct {
	Protocol string `json:"protocol"`
	Path     string `json:"path"`
}

// Validate rejects locators missing the protocol tag or path.
func (l Locator) Validate() error {
	if l.Protocol == "" {
		return fmt.Errorf("%w: locator missing protocol tag", ErrDecode)
	}
	if l.Path == "" {
		return fmt.Errorf("%w: locator missing path", ErrDecode)
	}
	return nil
}

// FrameRef points at one frame of a registered trajectory.
type FrameRef struct {
	TrajectoryID string `json:"trajectory_id"`
	FrameIndex   int    `json:"frame_index"`
}

// RegisterSimulator is sent by a simulator on startup to request a seed.
type RegisterSimulator struct {
	Engine string `json:"engine,omitempty"`
}

func (RegisterSimulator) MsgType() string { return TypeRegisterSimulator }

// SeedAssignment is the reply to register_simulator. Exactly one of Frame or
// nothing is set depending on origin: model-derived seeds carry the frame
// reference resolved against the registry, initial seeds carry only the
// locator of a starting conformation.
type SeedAssignment struct {
	SeedID  string    `json:"seed_id"`
	Origin  string    `json:"origin"`
	Locator Locator   `json:"locator"`
	Frame   *FrameRef `json:"frame,omitempty"`
}

func (SeedAssignment) MsgType() string { return TypeSeedAssignment }

// SimulatorDone reports a completed trajectory. TrajectoryID must be unique;
// the server treats a resend of the same id as an idempotent retry.
type SimulatorDone struct {
	TrajectoryID string  `json:"trajectory_id"`
	SeedID       string  `json:"seed_id"`
	Locator      Locator `json:"locator"`
}

func (SimulatorDone) MsgType() string { return TypeSimulatorDone }

// RegisterModeler is sent by a modeler on startup to request the trajectory
// list.
type RegisterModeler struct{}

func (RegisterModeler) MsgType() string { return TypeRegisterModeler }

// TrajectoryEntry is one row of the trajectory_list reply.
type TrajectoryEntry struct {
	TrajectoryID string  `json:"trajectory_id"`
	Locator      Locator `json:"locator"`
	Round        int     `json:"round"`
}

// TrajectoryList is the reply to register_modeler.
type TrajectoryList struct {
	Trajectories []TrajectoryEntry `json:"trajectories"`
}

func (TrajectoryList) MsgType() string { return TypeTrajectoryList }

// ModelResult carries a finished model build. StateFrames is indexed by state;
// StateFrames[i] lists the frames assigned to state i and must have exactly
// StateCount entries, matching Populations.
type ModelResult struct {
	ModelID     string       `json:"model_id"`
	StateCount  int          `json:"state_count"`
	Populations []float64    `json:"populations"`
	StateFrames [][]FrameRef `json:"state_frames"`
}

func (ModelResult) MsgType() string { return TypeModelResult }

// ErrorContent is the reply to any request the server cannot serve. Reason is
// one of the stable reason codes in the coordinator package; Detail is free
// text for humans.
type ErrorContent struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (ErrorContent) MsgType() string { return TypeError }

// Acknowledge is the reply to simulator_done and model_result.
type Acknowledge struct {
	Status string `json:"status"`
}

func (Acknowledge) MsgType() string { return TypeAcknowledge }

// NewMessage stamps a fresh envelope around content for the given session.
func NewMessage(session string, content Content) Message {
	return Message{
		Header: Header{
			MsgID:   uuid.NewString(),
			MsgType: content.MsgType(),
			Session: session,
			Time:    time.Now().UTC(),
		},
		Content: content,
	}
}

// NewReply stamps a reply to req, copying the request header into
// parent_header so the reply can be causally linked to its request.
func NewReply(session string, req Message, content Content) Message {
	parent := req.Header
	msg := NewMessage(session, content)
	msg.ParentHeader = &parent
	return msg
}

// envelope is the raw JSON shape used for two-phase decoding.
type envelope struct {
	Header       Header          `json:"header"`
	ParentHeader *Header         `json:"parent_header"`
	Content      json.RawMessage `json:"content"`
}

// Encode serializes m deterministically. Field order is fixed by the struct
// definitions and HTML escaping is disabled, so a given Message always
// produces the same bytes. The output carries no trailing newline.
func Encode(m Message) ([]byte, error) {
	if m.Content == nil {
		return nil, errors.New("wire: message has no content")
	}
	if m.Header.MsgType != m.Content.MsgType() {
		return nil, fmt.Errorf("wire: header type %q does not match content type %q",
			m.Header.MsgType, m.Content.MsgType())
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses raw into a Message, validating the payload against the schema
// for its msg_type. Any structural mismatch, unknown type or missing required
// field yields an error wrapping ErrDecode and no partial result.
func Decode(raw []byte) (Message, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if env.Header.MsgID == "" {
		return Message{}, fmt.Errorf("%w: header missing msg_id", ErrDecode)
	}
	if env.Header.Session == "" {
		return Message{}, fmt.Errorf("%w: header missing session", ErrDecode)
	}
	content, err := decodeContent(env.Header.MsgType, env.Content)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Header:       env.Header,
		ParentHeader: env.ParentHeader,
		Content:      content,
	}, nil
}

func decodeContent(msgType string, raw json.RawMessage) (Content, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing content", ErrDecode)
	}
	var content Content
	switch msgType {
	case TypeRegisterSimulator:
		content = &RegisterSimulator{}
	case TypeSeedAssignment:
		content = &SeedAssignment{}
	case TypeSimulatorDone:
		content = &SimulatorDone{}
	case TypeRegisterModeler:
		content = &RegisterModeler{}
	case TypeTrajectoryList:
		content = &TrajectoryList{}
	case TypeModelResult:
		content = &ModelResult{}
	case TypeError:
		content = &ErrorContent{}
	case TypeAcknowledge:
		content = &Acknowledge{}
	case "":
		return nil, fmt.Errorf("%w: header missing msg_type", ErrDecode)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, msgType)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(content); err != nil {
		return nil, fmt.Errorf("%w: bad %s content: %v", ErrDecode, msgType, err)
	}
	if err := validateContent(content); err != nil {
		return nil, err
	}
	return deref(content), nil
}

// validateContent enforces per-variant requirements beyond JSON shape.
func validateContent(c Content) error {
	switch v := c.(type) {
	case *SeedAssignment:
		if v.SeedID == "" {
			return fmt.Errorf("%w: seed_assignment missing seed_id", ErrDecode)
		}
		if v.Origin == "" {
			return fmt.Errorf("%w: seed_assignment missing origin", ErrDecode)
		}
		return v.Locator.Validate()
	case *SimulatorDone:
		if v.TrajectoryID == "" {
			return fmt.Errorf("%w: simulator_done missing trajectory_id", ErrDecode)
		}
		return v.Locator.Validate()
	case *TrajectoryList:
		for _, t := range v.Trajectories {
			if t.TrajectoryID == "" {
				return fmt.Errorf("%w: trajectory_list entry missing trajectory_id", ErrDecode)
			}
			if err := t.Locator.Validate(); err != nil {
				return err
			}
		}
	case *ModelResult:
		if v.ModelID == "" {
			return fmt.Errorf("%w: model_result missing model_id", ErrDecode)
		}
		if v.StateCount <= 0 {
			return fmt.Errorf("%w: model_result state_count must be positive", ErrDecode)
		}
		if len(v.Populations) != v.StateCount {
			return fmt.Errorf("%w: model_result has %d populations for %d states",
				ErrDecode, len(v.Populations), v.StateCount)
		}
		if len(v.StateFrames) != v.StateCount {
			return fmt.Errorf("%w: model_result has %d frame lists for %d states",
				ErrDecode, len(v.StateFrames), v.StateCount)
		}
	case *ErrorContent:
		if v.Reason == "" {
			return fmt.Errorf("%w: error missing reason", ErrDecode)
		}
	}
	return nil
}

// deref returns the value form of a decoded pointer variant so that decoded
// messages compare equal to the value-typed messages callers construct.
func deref(c Content) Content {
	switch v := c.(type) {
	case *RegisterSimulator:
		return *v
	case *SeedAssignment:
		return *v
	case *SimulatorDone:
		return *v
	case *RegisterModeler:
		return *v
	case *TrajectoryList:
		return *v
	case *ModelResult:
		return *v
	case *ErrorContent:
		return *v
	case *Acknowledge:
		return *v
	}
	return c
}
