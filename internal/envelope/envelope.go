// Package envelope is the uniform result wrapper of every entity action.
//
// A Result is either a success ({"is_error":0,"count":N,"values":{...}}) or an error
// ({"is_error":1,"error_message":"..."}); the two shapes never mix.
package envelope

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/donorline/donorline-go/internal/apierr"
)

type Result struct {
	IsError      bool
	Count        int
	Values       map[string]any
	ErrorMessage string
	ErrorCode    apierr.Kind

	err error
}

// Success wraps values keyed by entity id. Count is the number of values.
func Success(values map[string]any) Result {
	if values == nil {
		values = map[string]any{}
	}
	return Result{Count: len(values), Values: values}
}

// Error converts err into the error shape. The message shown to callers is err's text.
func Error(err error) Result {
	if err == nil {
		err = errors.New("unknown error")
	}
	return Result{
		IsError:      true,
		ErrorMessage: err.Error(),
		ErrorCode:    apierr.KindOf(err),
		err:          err,
	}
}

// Err returns the error a failed Result was built from.
func (r Result) Err() error {
	return r.err
}

// Key formats an entity id as a values key.
func Key(id int64) string {
	return strconv.FormatInt(id, 10)
}

type successWire struct {
	IsError int            `json:"is_error"`
	Count   int            `json:"count"`
	Values  map[string]any `json:"values"`
}

type errorWire struct {
	IsError      int    `json:"is_error"`
	ErrorMessage string `json:"error_message"`
	ErrorCode    string `json:"error_code,omitempty"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.IsError {
		return json.Marshal(errorWire{IsError: 1, ErrorMessage: r.ErrorMessage, ErrorCode: string(r.ErrorCode)})
	}
	values := r.Values
	if values == nil {
		values = map[string]any{}
	}
	return json.Marshal(successWire{IsError: 0, Count: r.Count, Values: values})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var wire struct {
		IsError      int            `json:"is_error"`
		Count        int            `json:"count"`
		Values       map[string]any `json:"values"`
		ErrorMessage string         `json:"error_message"`
		ErrorCode    string         `json:"error_code"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Result{
		IsError:      wire.IsError != 0,
		Count:        wire.Count,
		Values:       wire.Values,
		ErrorMessage: wire.ErrorMessage,
		ErrorCode:    apierr.Kind(wire.ErrorCode),
	}
	return nil
}
