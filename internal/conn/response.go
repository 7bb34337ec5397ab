package conn

import (
	"strconv"
)

// Response is one server reply: a scalar, a flat array, nil, or an error-flagged scalar.
type Response struct {
	value  any
	errMsg bool
}

func NewResponse(value any) Response { return Response{value: value} }

func ErrorResponse(msg string) Response { return Response{value: msg, errMsg: true} }

func (r Response) Value() any { return r.value }

func (r Response) IsErrorMessage() bool { return r.errMsg }

func (r Response) IsNil() bool { return r.value == nil }

func (r Response) IsOkMessage() bool {
	s, ok := r.value.(string)
	return ok && !r.errMsg && s == "OK"
}

// Err returns a transport error for error-flagged replies.
func (r Response) Err() error {
	if !r.errMsg {
		return nil
	}
	s, _ := r.value.(string)
	return Rejected(s)
}

func (r Response) String() (string, bool) {
	if r.errMsg {
		return "", false
	}
	return toString(r.value)
}

func (r Response) Int64() (int64, bool) {
	if r.errMsg {
		return 0, false
	}
	return toInt64(r.value)
}

func (r Response) Array() ([]any, bool) {
	if r.errMsg {
		return nil, false
	}
	arr, ok := r.value.([]any)
	return arr, ok
}

func toString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	}
	return "", false
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Strings converts a flat array reply to strings.
func Strings(items []any) ([]string, error) {
	res := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := toString(item)
		if !ok {
			return nil, Decodef("unexpected element %T in reply", item)
		}
		res = append(res, s)
	}
	return res, nil
}
