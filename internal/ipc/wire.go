// Package ipc implements the Unix-domain socket protocol of spec §4.4
// and §4.5: a line-delimited JSON request/response/event framing, the
// daemon-side Server that dispatches into a terminal.Manager, and the
// Client library an attaching process uses to auto-start and talk to
// it. Grounded on wandb-catnip/container/internal/handlers/pty.go's
// connection handling (full-duplex per-connection I/O, JSON control
// messages multiplexed with raw data) adapted from catnip's WebSocket
// transport to a raw Unix socket, since spec §6 calls for a socket, not
// HTTP.
package ipc

import "encoding/json"

// request is the wire shape of an inbound call (spec §6).
type request struct {
	ID       string          `json:"id"`
	Action   string          `json:"action"`
	Terminal string          `json:"terminal,omitempty"`
	Command  string          `json:"command,omitempty"`
	Cwd      string          `json:"cwd,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Cols     int             `json:"cols,omitempty"`
	Rows     int             `json:"rows,omitempty"`
	Data     string          `json:"data,omitempty"`
	IsKey    bool            `json:"is_key,omitempty"`
	Mode     string          `json:"mode,omitempty"`
	Lines    int             `json:"lines,omitempty"`
	Bytes    int             `json:"bytes,omitempty"`
	Force    bool            `json:"force,omitempty"`
}

// response is the wire shape of a reply to exactly one request, keyed
// by the same id (spec §6).
type response struct {
	Type  string        `json:"type"`
	ID    string        `json:"id"`
	OK    bool          `json:"ok"`
	Result interface{}  `json:"result,omitempty"`
	Error *wireError    `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// event is the wire shape of an unsolicited output/exit notice for a
// subscribed terminal. Events carry no id (spec §4.4: "must never
// collide with response framing").
type event struct {
	Type     string `json:"type"`
	Terminal string `json:"terminal"`
	Kind     string `json:"kind"`
	Data     string `json:"data,omitempty"`
}

func newResponse(id string, result interface{}) response {
	return response{Type: "response", ID: id, OK: true, Result: result}
}

func newErrorResponse(id, code, message string) response {
	return response{Type: "response", ID: id, OK: false, Error: &wireError{Code: code, Message: message}}
}

func newEvent(terminal, kind string, data []byte) event {
	return event{Type: "event", Terminal: terminal, Kind: kind, Data: string(data)}
}

// listEntry is the JSON shape of one terminal in a list() result.
type listEntry struct {
	ID        string `json:"id"`
	Command   string `json:"command"`
	Cwd       string `json:"cwd"`
	Running   bool   `json:"running"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
	Pid       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	ExitedAt  string `json:"exited_at,omitempty"`
}

// startResult is the result payload of a successful start() call.
type startResult struct {
	Terminal string `json:"terminal"`
}

// sizeResult is the result payload of a successful term-size() call.
type sizeResult struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func marshalLine(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
