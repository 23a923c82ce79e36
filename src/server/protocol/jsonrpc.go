// Package protocol implements JSON-RPC 2.0 over stdio with the LSP
// Content-Length framing, plus routing of the three message shapes a
// language server can produce: responses, server requests, notifications.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"lsp-bridge/src/internal/common"
)

const JSONRPCVersion = "2.0"

// JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// responseBufferSize is sized for large results such as documentSymbol on
// generated files; a too-small reader truncates JSON mid-message.
const responseBufferSize = 1 << 20

// JSONRPCMessage represents a JSON-RPC 2.0 message of any shape.
type JSONRPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// MessageHandler receives demultiplexed messages from ReadMessages.
type MessageHandler interface {
	HandleRequest(method string, id interface{}, params json.RawMessage) error
	HandleResponse(id interface{}, result json.RawMessage, err *RPCError) error
	HandleNotification(method string, params json.RawMessage) error
}

// Codec frames and parses LSP traffic for one connection.
type Codec struct {
	language string // for logging context only
}

// NewCodec creates a codec tagged with the connection's language id.
func NewCodec(language string) *Codec {
	return &Codec{language: language}
}

// WriteMessage sends a JSON-RPC message with the Content-Length header.
func (c *Codec) WriteMessage(writer io.Writer, msg JSONRPCMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	content := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(data), data)
	_, err = writer.Write([]byte(content))
	return err
}

// ReadMessages reads framed messages until EOF or stop, dispatching each
// one to the handler. Handler errors are logged and do not stop the loop.
func (c *Codec) ReadMessages(reader io.Reader, handler MessageHandler, stopCh <-chan struct{}) error {
	bufReader := bufio.NewReaderSize(reader, responseBufferSize)

	for {
		select {
		case <-stopCh:
			return nil
		default:
		}

		var contentLength int
		for {
			line, err := bufReader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					// Expected during shutdown.
					return nil
				}
				return err
			}

			line = strings.TrimSpace(line)
			if line == "" {
				break
			}

			if strings.HasPrefix(line, "Content-Length:") {
				lengthStr := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
				length, err := strconv.Atoi(lengthStr)
				if err != nil {
					common.LSPLogger.Debug("Failed to parse Content-Length from %s: %s", c.language, lengthStr)
					continue
				}
				contentLength = length
			}
		}

		if contentLength <= 0 {
			continue
		}

		body := make([]byte, contentLength)
		if _, err := io.ReadFull(bufReader, body); err != nil {
			return err
		}

		if err := c.HandleMessage(body, handler); err != nil {
			common.LSPLogger.Error("Error handling message from %s: %v", c.language, err)
		}
	}
}

// HandleMessage parses one JSON-RPC message and routes it by shape.
// Server-initiated traffic (method present) is checked first so that a
// server request is never mistaken for a response.
func (c *Codec) HandleMessage(data []byte, handler MessageHandler) error {
	var msg JSONRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal message from %s: %w", c.language, err)
	}

	switch {
	case msg.Method != "" && msg.ID != nil:
		return handler.HandleRequest(msg.Method, msg.ID, msg.Params)
	case msg.Method != "":
		return handler.HandleNotification(msg.Method, msg.Params)
	case msg.ID != nil:
		return handler.HandleResponse(msg.ID, msg.Result, msg.Error)
	default:
		return fmt.Errorf("malformed JSON-RPC message: no ID and no method")
	}
}

// CreateMessage creates a JSON-RPC request message.
func CreateMessage(method string, id interface{}, params interface{}) JSONRPCMessage {
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  marshalParams(params),
	}
}

// CreateNotification creates a JSON-RPC notification (no ID).
func CreateNotification(method string, params interface{}) JSONRPCMessage {
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  marshalParams(params),
	}
}

// CreateResponse creates a JSON-RPC response message.
func CreateResponse(id interface{}, result interface{}, err *RPCError) JSONRPCMessage {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
	if result != nil {
		if raw, ok := result.(json.RawMessage); ok {
			msg.Result = raw
		} else if data, merr := json.Marshal(result); merr == nil {
			msg.Result = data
		}
	}
	return msg
}

func marshalParams(params interface{}) json.RawMessage {
	if params == nil {
		return nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	return data
}

// IsExpectedSuppressibleError reports whether a response error is routine
// position noise (no symbol under the cursor, stale line numbers) that
// should not be logged at warning level.
func IsExpectedSuppressibleError(err *RPCError) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Message)
	patterns := []string{
		"no identifier found",
		"identifier not found",
		"symbol not found",
		"no symbol at position",
		"position out of range",
		"bad line number",
	}
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
