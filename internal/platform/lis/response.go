package lis

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// Response wraps a completed LIS call. The body is fully buffered.
type Response struct {
	status int
	header http.Header
	body   []byte
}

func newResponse(status int, header http.Header, body []byte) *Response {
	return &Response{status: status, header: header, body: body}
}

// OK is true only for 2xx responses.
func (r *Response) OK() bool { return r.status >= 200 && r.status < 300 }

func (r *Response) StatusCode() int { return r.status }

func (r *Response) Header() http.Header { return r.header }

func (r *Response) Body() []byte { return r.body }

// JSON decodes the whole body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.body, v)
}

// rawData returns the "data" member when the body is an object carrying one,
// otherwise the whole body.
func (r *Response) rawData() json.RawMessage {
	trimmed := bytes.TrimSpace(r.body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err == nil {
			if data, ok := envelope["data"]; ok {
				return data
			}
		}
	}
	return trimmed
}

// DecodeData decodes the data member (or the whole document) into v.
func (r *Response) DecodeData(v any) error {
	return json.Unmarshal(r.rawData(), v)
}

// Data returns the data member (or the whole document) as generic JSON values.
// It is nil when the body is not JSON.
func (r *Response) Data() any {
	var v any
	dec := json.NewDecoder(bytes.NewReader(r.rawData()))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

// Len is the number of elements when Data is an array, 0 otherwise.
func (r *Response) Len() int {
	items, _ := r.Data().([]any)
	return len(items)
}

// Index returns element i of an array-shaped Data, or nil when out of range.
func (r *Response) Index(i int) any {
	items, _ := r.Data().([]any)
	if i < 0 || i >= len(items) {
		return nil
	}
	return items[i]
}
