package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Frame describes the shape of a decoded top-level JSON-RPC payload: either
// a single message or a batch of them, per the 2.0 spec's batch extension.
type Frame int

const (
	// FrameSingle is exactly one JSON-RPC object.
	FrameSingle Frame = iota
	// FrameBatch is a JSON array of one or more JSON-RPC objects.
	FrameBatch
)

// Batch is an ordered collection of JSON-RPC messages transmitted together.
// Responses to a batch of requests MUST be returned as a batch in the same
// order the corresponding requests were seen (notifications produce no
// response and are simply omitted).
type Batch []AnyMessage

// Classify inspects the first non-whitespace byte of data to determine
// whether it encodes a single JSON-RPC message or a batch, without fully
// decoding it. It returns ErrorCodeParseError-worthy errors for malformed
// input (empty payloads or content that is neither an object nor an array).
func Classify(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return FrameSingle, fmt.Errorf("empty JSON-RPC payload")
	}
	switch trimmed[0] {
	case '{':
		return FrameSingle, nil
	case '[':
		return FrameBatch, nil
	default:
		return FrameSingle, fmt.Errorf("payload is neither a JSON object nor array")
	}
}

// DecodeBatch parses data as a Batch. Callers should call Classify first and
// only invoke DecodeBatch when it reports FrameBatch.
func DecodeBatch(data []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("batch must contain at least one message")
	}
	return b, nil
}

// MarshalResponses encodes a slice of responses as a JSON-RPC batch. Callers
// filter out nil responses (produced by notifications) before calling this.
func MarshalResponses(responses []*Response) ([]byte, error) {
	out, err := json.Marshal(responses)
	if err != nil {
		return nil, fmt.Errorf("marshal batch responses: %w", err)
	}
	return out, nil
}
