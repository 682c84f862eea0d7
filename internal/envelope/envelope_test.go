package envelope

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/donorline/donorline-go/internal/apierr"
)

func TestSuccessShape(t *testing.T) {
	res := Success(map[string]any{Key(3): map[string]any{"id": 3}})
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal() err=%v", err)
	}
	if len(got) != 3 {
		t.Fatalf("success shape has %d keys: %s", len(got), raw)
	}
	if got["is_error"] != float64(0) || got["count"] != float64(1) {
		t.Fatalf("unexpected success body: %s", raw)
	}
	if _, ok := got["error_message"]; ok {
		t.Fatalf("success must not carry error_message: %s", raw)
	}
}

func TestEmptySuccessHasObjectValues(t *testing.T) {
	raw, err := json.Marshal(Success(nil))
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	if string(raw) != `{"is_error":0,"count":0,"values":{}}` {
		t.Fatalf("got %s", raw)
	}
}

func TestErrorShape(t *testing.T) {
	res := Error(apierr.New(apierr.NotFound, "Contribution does not exist"))
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	want := `{"is_error":1,"error_message":"Contribution does not exist","error_code":"not_found"}`
	if string(raw) != want {
		t.Fatalf("got %s, want %s", raw, want)
	}
	if res.Err() == nil {
		t.Fatalf("expected underlying error")
	}
}

func TestErrorFromPlainError(t *testing.T) {
	res := Error(errors.New("boom"))
	if !res.IsError || res.ErrorMessage != "boom" || res.ErrorCode != apierr.Internal {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestUnmarshalRoundTrip(t *testing.T) {
	var res Result
	if err := json.Unmarshal([]byte(`{"is_error":1,"error_message":"nope","error_code":"validation"}`), &res); err != nil {
		t.Fatalf("Unmarshal() err=%v", err)
	}
	if !res.IsError || res.ErrorCode != apierr.Validation {
		t.Fatalf("unexpected result: %+v", res)
	}
}
