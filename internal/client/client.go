// Package client is the worker-side half of the protocol: a thin
// request/reply client used by simulators and modelers to talk to the
// coordination server. Each worker owns a session identity for its lifetime
// and issues one request at a time, waiting for the reply before the next.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/msmaccel/accelerd/internal/wire"
)

// Client talks to one coordination server.
type Client struct {
	baseURL string
	session string
	http    *http.Client
}

// New creates a client for the server at baseURL (e.g. http://host:port).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		session: uuid.NewString(),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Session returns the worker's session identity.
func (c *Client) Session() string { return c.session }

// Request sends content and returns the server's reply. It verifies the
// causal chain: the reply's parent_header must carry the request's msg_id.
func (c *Client) Request(ctx context.Context, content wire.Content) (wire.Message, error) {
	req := wire.NewMessage(c.session, content)
	raw, err := wire.Encode(req)
	if err != nil {
		return wire.Message{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/msg", bytes.NewReader(raw))
	if err != nil {
		return wire.Message{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return wire.Message{}, fmt.Errorf("client: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return wire.Message{}, fmt.Errorf("client: failed to read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return wire.Message{}, fmt.Errorf("client: server returned %d: %s", resp.StatusCode, body)
	}

	reply, err := wire.Decode(body)
	if err != nil {
		return wire.Message{}, fmt.Errorf("client: bad reply: %w", err)
	}
	if reply.ParentHeader == nil || reply.ParentHeader.MsgID != req.Header.MsgID {
		return wire.Message{}, fmt.Errorf("client: reply does not answer request %s", req.Header.MsgID)
	}
	return reply, nil
}

// RegisterSimulator requests a seed assignment.
func (c *Client) RegisterSimulator(ctx context.Context, engine string) (wire.SeedAssignment, error) {
	reply, err := c.Request(ctx, wire.RegisterSimulator{Engine: engine})
	if err != nil {
		return wire.SeedAssignment{}, err
	}
	switch content := reply.Content.(type) {
	case wire.SeedAssignment:
		return content, nil
	case wire.ErrorContent:
		return wire.SeedAssignment{}, fmt.Errorf("client: server error %s: %s", content.Reason, content.Detail)
	default:
		return wire.SeedAssignment{}, fmt.Errorf("client: unexpected reply type %s", reply.Header.MsgType)
	}
}

// ReportDone reports a finished trajectory. It is safe to retry after a lost
// reply; the server absorbs duplicates.
func (c *Client) ReportDone(ctx context.Context, done wire.SimulatorDone) error {
	reply, err := c.Request(ctx, done)
	if err != nil {
		return err
	}
	return expectAck(reply)
}

// RegisterModeler requests the list of registered trajectories.
func (c *Client) RegisterModeler(ctx context.Context) (wire.TrajectoryList, error) {
	reply, err := c.Request(ctx, wire.RegisterModeler{})
	if err != nil {
		return wire.TrajectoryList{}, err
	}
	switch content := reply.Content.(type) {
	case wire.TrajectoryList:
		return content, nil
	case wire.ErrorContent:
		return wire.TrajectoryList{}, fmt.Errorf("client: server error %s: %s", content.Reason, content.Detail)
	default:
		return wire.TrajectoryList{}, fmt.Errorf("client: unexpected reply type %s", reply.Header.MsgType)
	}
}

// SubmitModel submits a finished model result.
func (c *Client) SubmitModel(ctx context.Context, result wire.ModelResult) error {
	reply, err := c.Request(ctx, result)
	if err != nil {
		return err
	}
	return expectAck(reply)
}

func expectAck(reply wire.Message) error {
	switch content := reply.Content.(type) {
	case wire.Acknowledge:
		return nil
	case wire.ErrorContent:
		return fmt.Errorf("client: server error %s: %s", content.Reason, content.Detail)
	default:
		return fmt.Errorf("client: unexpected reply type %s", reply.Header.MsgType)
	}
}
