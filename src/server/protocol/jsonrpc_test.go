package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type mockHandler struct {
	reqCount   int
	notifCount int
	respCount  int
	lastMethod string
	lastID     interface{}
	lastParams json.RawMessage
	lastResult json.RawMessage
	lastErr    *RPCError
}

func (m *mockHandler) HandleRequest(method string, id interface{}, params json.RawMessage) error {
	m.reqCount++
	m.lastMethod = method
	m.lastID = id
	m.lastParams = params
	return nil
}
func (m *mockHandler) HandleResponse(id interface{}, result json.RawMessage, err *RPCError) error {
	m.respCount++
	m.lastID = id
	m.lastResult = result
	m.lastErr = err
	return nil
}
func (m *mockHandler) HandleNotification(method string, params json.RawMessage) error {
	m.notifCount++
	m.lastMethod = method
	m.lastParams = params
	return nil
}

func TestCodec_WriteMessage(t *testing.T) {
	c := NewCodec("go")
	buf := &bytes.Buffer{}
	msg := CreateMessage("initialize", 1, map[string]any{"capabilities": map[string]any{}})
	if err := c.WriteMessage(buf, msg); err != nil {
		t.Fatalf("WriteMessage error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Content-Length:") {
		t.Fatalf("missing Content-Length header: %q", out)
	}
	parts := bytes.SplitN(buf.Bytes(), []byte("\r\n\r\n"), 2)
	if len(parts) != 2 {
		t.Fatalf("invalid header/body split: %q", out)
	}
	payload := parts[1]
	var dec JSONRPCMessage
	if err := json.Unmarshal(payload, &dec); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if dec.Method != "initialize" || dec.ID == nil {
		t.Fatalf("unexpected message decoded: %+v", dec)
	}
}

func TestCodec_HandleMessage_RoutesCorrectly(t *testing.T) {
	c := NewCodec("go")
	h := &mockHandler{}

	// Server request
	req := CreateMessage("workspace/configuration", 2, map[string]any{"items": []any{}})
	reqBytes, _ := json.Marshal(req)
	if err := c.HandleMessage(reqBytes, h); err != nil {
		t.Fatalf("handle request: %v", err)
	}
	if h.reqCount != 1 || h.lastMethod != "workspace/configuration" {
		t.Fatalf("request not handled: %+v", h)
	}

	// Server notification
	notif := CreateNotification("textDocument/publishDiagnostics", map[string]any{"uri": "file:///x.go", "diagnostics": []any{}})
	notifBytes, _ := json.Marshal(notif)
	if err := c.HandleMessage(notifBytes, h); err != nil {
		t.Fatalf("handle notification: %v", err)
	}
	if h.notifCount != 1 || h.lastMethod != "textDocument/publishDiagnostics" {
		t.Fatalf("notification not handled: %+v", h)
	}

	// Response with result
	resp := CreateResponse(3, json.RawMessage(`{"ok":true}`), nil)
	respBytes, _ := json.Marshal(resp)
	if err := c.HandleMessage(respBytes, h); err != nil {
		t.Fatalf("handle response: %v", err)
	}
	if h.respCount != 1 || string(h.lastResult) != `{"ok":true}` {
		t.Fatalf("response not handled: %+v", h)
	}

	// Response with error
	respErr := CreateResponse(4, nil, &RPCError{Code: MethodNotFound, Message: "method not found"})
	respErrBytes, _ := json.Marshal(respErr)
	if err := c.HandleMessage(respErrBytes, h); err != nil {
		t.Fatalf("handle error response: %v", err)
	}
	if h.lastErr == nil || h.lastErr.Code != MethodNotFound {
		t.Fatalf("error response not handled: %+v", h)
	}
}

func TestCodec_HandleMessage_Malformed(t *testing.T) {
	c := NewCodec("go")
	h := &mockHandler{}

	if err := c.HandleMessage([]byte(`{not json`), h); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if err := c.HandleMessage([]byte(`{"jsonrpc":"2.0"}`), h); err == nil {
		t.Fatal("expected error for message with no id and no method")
	}
	if h.reqCount+h.notifCount+h.respCount != 0 {
		t.Fatalf("malformed input reached handler: %+v", h)
	}
}

func TestCodec_ReadMessages_Stream(t *testing.T) {
	c := NewCodec("go")
	h := &mockHandler{}

	buf := &bytes.Buffer{}
	for _, msg := range []JSONRPCMessage{
		CreateResponse(1, json.RawMessage(`null`), nil),
		CreateNotification("textDocument/publishDiagnostics", map[string]any{"uri": "file:///a.go"}),
		CreateMessage("window/workDoneProgress/create", 2, map[string]any{}),
	} {
		if err := c.WriteMessage(buf, msg); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	stopCh := make(chan struct{})
	if err := c.ReadMessages(buf, h, stopCh); err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	if h.respCount != 1 || h.notifCount != 1 || h.reqCount != 1 {
		t.Fatalf("stream routing mismatch: %+v", h)
	}
}

func TestIsExpectedSuppressibleError(t *testing.T) {
	cases := []struct {
		err  *RPCError
		want bool
	}{
		{nil, false},
		{&RPCError{Code: InternalError, Message: "No identifier found at position"}, true},
		{&RPCError{Code: InvalidParams, Message: "bad line number given"}, true},
		{&RPCError{Code: InternalError, Message: "server panicked"}, false},
	}
	for _, tc := range cases {
		if got := IsExpectedSuppressibleError(tc.err); got != tc.want {
			t.Errorf("IsExpectedSuppressibleError(%+v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
