package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/msmaccel/accelerd/internal/wire"
)

type echoDispatcher struct {
	lastRaw      []byte
	lastClientID string
	silent       bool
}

func (d *echoDispatcher) Dispatch(_ context.Context, raw []byte, h *ClientHandle) {
	d.lastRaw = raw
	d.lastClientID = h.ClientID()
	if d.silent {
		return
	}
	if err := h.Reply(wire.NewMessage("server", wire.Acknowledge{Status: "ok"})); err != nil {
		panic(err)
	}
}

func TestHandleReplyIsOneShot(t *testing.T) {
	rec := httptest.NewRecorder()
	h := &ClientHandle{clientID: "10.0.0.1", w: rec}

	msg := wire.NewMessage("server", wire.Acknowledge{Status: "ok"})
	if err := h.Reply(msg); err != nil {
		t.Fatalf("first reply: %v", err)
	}
	if err := h.Reply(msg); !errors.Is(err, ErrAlreadyReplied) {
		t.Fatalf("second reply error = %v, want ErrAlreadyReplied", err)
	}

	reply, err := wire.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Header.MsgType != wire.TypeAcknowledge {
		t.Fatalf("msg_type = %s, want %s", reply.Header.MsgType, wire.TypeAcknowledge)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
}

func TestMessageEndpointPassesRawBytes(t *testing.T) {
	disp := &echoDispatcher{}
	srv := httptest.NewServer(NewServer("127.0.0.1:0", disp, nil).Handler())
	defer srv.Close()

	body := `{"header":{"msg_id":"x","msg_type":"register_modeler","session":"s","time":"2026-01-02T03:04:05Z"},"parent_header":null,"content":{}}`
	resp, err := http.Post(srv.URL+"/msg", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(disp.lastRaw) != body {
		t.Fatalf("dispatcher saw %q", disp.lastRaw)
	}
	if disp.lastClientID == "" {
		t.Fatal("dispatcher saw empty client id")
	}
}

func TestSilentDispatcherBecomes500(t *testing.T) {
	disp := &echoDispatcher{silent: true}
	srv := httptest.NewServer(NewServer("127.0.0.1:0", disp, nil).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/msg", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewServer("127.0.0.1:0", &echoDispatcher{}, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("unmarshal %q: %v", body, err)
	}
	if status.Status != "ok" {
		t.Fatalf("status = %q, want ok", status.Status)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	srv := httptest.NewServer(NewServer("127.0.0.1:0", &echoDispatcher{}, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
