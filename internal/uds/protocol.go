// Package uds carries CLI requests to the herald daemon over a Unix socket.
// Every message is one frame: a big-endian uint32 length followed by JSON.
package uds

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const ProtocolVersion = 1

// DefaultSocketName is the socket filename inside .herald/.
const DefaultSocketName = "daemon.sock"

// MaxFrameSize bounds a single frame payload.
const MaxFrameSize = 4 << 20

var ErrFrameTooLarge = errors.New("frame exceeds size limit")

type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Command         string          `json:"command"`
	Params          json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail doubles as the error returned by Client.Call.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	ErrCodeProtocolMismatch = "PROTOCOL_MISMATCH"
	ErrCodeUnknownCommand   = "UNKNOWN_COMMAND"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeShuttingDown     = "SHUTTING_DOWN"
)

// NewRequest builds a request for command; params may be nil.
func NewRequest(command string, params any) (*Request, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", command, err)
	}
	return &Request{ProtocolVersion: ProtocolVersion, Command: command, Params: raw}, nil
}

// SuccessResponse wraps data, which may be nil.
func SuccessResponse(data any) *Response {
	raw, err := marshalOptional(data)
	if err != nil {
		return ErrorResponse(ErrCodeInternal, "encode result: "+err.Error())
	}
	return &Response{Success: true, Data: raw}
}

func ErrorResponse(code, message string) *Response {
	return &Response{Error: &ErrorDetail{Code: code, Message: message}}
}

// Errorf is ErrorResponse with a formatted message.
func Errorf(code, format string, args ...any) *Response {
	return ErrorResponse(code, fmt.Sprintf(format, args...))
}

func marshalOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// DecodeParams fills v from the request params. Absent params leave v as is.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return fmt.Errorf("invalid params for %s: %w", r.Command, err)
	}
	return nil
}

// DecodeData fills v from a successful response. A failed response yields
// its *ErrorDetail.
func (r *Response) DecodeData(v any) error {
	switch {
	case !r.Success && r.Error != nil:
		return r.Error
	case !r.Success:
		return &ErrorDetail{Code: ErrCodeInternal, Message: "request failed without error detail"}
	case v == nil || len(r.Data) == 0:
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// WriteFrame encodes v and writes it as one frame.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

// ReadFrame reads one frame and decodes it into v.
func ReadFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("read frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
