package jsonrpc

import (
	"encoding/json"

	"github.com/buger/jsonparser"
)

// PeekMethod extracts the "method" field from a single JSON-RPC object
// without unmarshaling it into AnyMessage, for callers on a hot read path
// that want to branch on method name before paying for the full decode and
// request/response/notification validation AnyMessage.UnmarshalJSON does.
//
// It returns ok=false for anything that isn't a JSON object with a string
// "method" field (batches, responses, malformed frames) so callers fall
// back to the regular decode path rather than trying to interpret a
// partial result.
func PeekMethod(data []byte) (method string, ok bool) {
	v, err := jsonparser.GetString(data, "method")
	if err != nil {
		return "", false
	}
	return v, true
}

// FastDecodeNotification parses data directly into a Request using
// jsonparser field lookups, bypassing AnyMessage's struct-based unmarshal
// and its request/response/notification shape validation. It only handles
// the notification shape (method present, id absent) and is intended for
// high-volume notification methods such as notifications/progress, where
// skipping the extra validation pass measurably matters; it returns
// ok=false for anything else so the caller can fall back to the slow path.
func FastDecodeNotification(data []byte) (req *Request, ok bool) {
	method, err := jsonparser.GetString(data, "method")
	if err != nil {
		return nil, false
	}

	if _, _, _, err := jsonparser.Get(data, "id"); err != jsonparser.KeyPathNotFoundError {
		// Either an id is present (this is a request, not a notification) or
		// some other lookup error occurred; either way, fall back.
		return nil, false
	}

	version, err := jsonparser.GetString(data, "jsonrpc")
	if err != nil || version != ProtocolVersion {
		return nil, false
	}

	var params json.RawMessage
	if raw, dataType, _, err := jsonparser.Get(data, "params"); err == nil && dataType != jsonparser.NotExist {
		params = append(json.RawMessage(nil), raw...)
	}

	return &Request{
		JSONRPCVersion: version,
		Method:         method,
		Params:         params,
	}, true
}
