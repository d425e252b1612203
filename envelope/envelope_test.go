package envelope

import (
	"encoding/json"
	"testing"
)

func TestNewSetsTraceAndTimestamp(t *testing.T) {
	e := New(RPCRequest)
	if e.TraceID == "" {
		t.Fatal("expected a generated trace id")
	}
	if e.Timestamp.IsZero() {
		t.Fatal("expected a non-zero timestamp")
	}
	if e.Action != RPCRequest {
		t.Fatalf("action = %q, want %q", e.Action, RPCRequest)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	e := New(BridgeBroadcast)
	e.Channel = "c"
	e.Method = "inc"
	e.Args = []json.RawMessage{json.RawMessage(`5`)}

	data, err := e.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	got, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if got.Channel != e.Channel || got.Method != e.Method {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	e := New(RPCResolve)
	e.ConnID = "abc1234567"
	e.CallID = "xyz7654321"
	e.Result = json.RawMessage(`{"ok":true}`)

	data, err := e.ToBinary()
	if err != nil {
		t.Fatalf("ToBinary: %v", err)
	}

	got, err := FromBinary(data)
	if err != nil {
		t.Fatalf("FromBinary: %v", err)
	}
	if got.ConnID != e.ConnID || got.CallID != e.CallID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestRemoteErrorSatisfiesError(t *testing.T) {
	var err error = &RemoteError{Message: "nope", Stack: "stack..."}
	if err.Error() != "nope" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "nope")
	}
}
