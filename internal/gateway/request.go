package gateway

import (
	"net/http"
	"net/url"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request describes one call to the API. Path is relative to the base URL of the gateway.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte

	// set once per originating request and kept on the retry
	correlationID string
	// one-shot flag, a retried request is never refreshed again
	retried bool
}

func NewRequest(method, path string, body []byte) *Request {
	return &Request{Method: method, Path: path, Body: body, Header: http.Header{}}
}

// NewJSONRequest encodes payload as the body of the request, a nil payload sends no body
func NewJSONRequest(method, path string, payload any) (*Request, error) {
	if payload == nil {
		return NewRequest(method, path, nil), nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req := NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (r *Request) CorrelationID() string {
	return r.correlationID
}

// SetCorrelationID reuses an id received from upstream instead of generating one
func (r *Request) SetCorrelationID(id string) {
	r.correlationID = id
}

type Response struct {
	StatusCode    int
	Header        http.Header
	Body          []byte
	CorrelationID string
}

// Decode unmarshals the JSON body of the response into out
func (r *Response) Decode(out any) error {
	if len(r.Body) == 0 || out == nil {
		return nil
	}
	return json.Unmarshal(r.Body, out)
}
