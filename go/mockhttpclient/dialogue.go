package mockhttpclient

import (
	"fmt"
	"io"
	"net/http"
)

// TEST_FAILED_STATUS_CODE is the response code used by mock handlers to signal
// that a request did not match expectations. muxClient translates it into an
// error return so the test fails with a useful message instead of hanging.
const TEST_FAILED_STATUS_CODE = 599

// MockDialogue is an http.Handler representing a single expected
// request/response exchange. The zero value accepts any GET request and
// responds 200 with an empty body; use the constructors and the ResponseCode/
// ResponseHeader modifiers to shape it.
type MockDialogue struct {
	requestMethod  string
	requestType    string
	requestPayload []byte

	responseStatus  string
	responseCode    int
	responseHeaders map[string]string
	responsePayload []byte
}

// MockGetDialogue returns a MockDialogue that expects a GET request and
// responds 200 with the given body.
func MockGetDialogue(responseBody []byte) *MockDialogue {
	return &MockDialogue{
		requestMethod:   http.MethodGet,
		responseStatus:  "OK",
		responseCode:    http.StatusOK,
		responsePayload: responseBody,
	}
}

// MockPostDialogue returns a MockDialogue that expects a POST request with the
// given content type and body, and responds 200 with the given body.
func MockPostDialogue(requestType string, requestBody, responseBody []byte) *MockDialogue {
	return &MockDialogue{
		requestMethod:   http.MethodPost,
		requestType:     requestType,
		requestPayload:  requestBody,
		responseStatus:  "OK",
		responseCode:    http.StatusOK,
		responsePayload: responseBody,
	}
}

// ResponseCode changes the response status code.
func (md *MockDialogue) ResponseCode(code int) *MockDialogue {
	md.responseCode = code
	md.responseStatus = http.StatusText(code)
	return md
}

// ResponseHeader adds a header to the response, e.g. rate-limit headers.
func (md *MockDialogue) ResponseHeader(key, value string) *MockDialogue {
	if md.responseHeaders == nil {
		md.responseHeaders = map[string]string{}
	}
	md.responseHeaders[key] = value
	return md
}

// ServeHTTP implements http.Handler.
func (md *MockDialogue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fail := func(format string, args ...interface{}) {
		http.Error(w, fmt.Sprintf(format, args...), TEST_FAILED_STATUS_CODE)
	}
	if md.requestMethod != "" && r.Method != md.requestMethod {
		fail("Expected method %q for %s, got %q", md.requestMethod, r.URL, r.Method)
		return
	}
	if md.requestType != "" && r.Header.Get("Content-Type") != md.requestType {
		fail("Expected content type %q for %s, got %q", md.requestType, r.URL, r.Header.Get("Content-Type"))
		return
	}
	if md.requestPayload != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			fail("Failed to read request body for %s: %s", r.URL, err)
			return
		}
		if string(body) != string(md.requestPayload) {
			fail("Unexpected request body for %s:\nwant %q\ngot  %q", r.URL, md.requestPayload, body)
			return
		}
	}
	for k, v := range md.responseHeaders {
		w.Header().Set(k, v)
	}
	w.WriteHeader(md.responseCode)
	if _, err := w.Write(md.responsePayload); err != nil {
		panic(err)
	}
}
