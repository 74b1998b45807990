package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const mockBucket = "mock-bucket"

// NewMockForTests returns a Store backed by an in-process fake S3 transport.
// It answers the Head/Get/Put/Delete/ListObjectsV2 calls the store makes.
func NewMockForTests() *Store {
	store, _ := newMock(0)
	return store
}

// newMock builds a mock store; pageSize > 0 paginates ListObjectsV2.
func newMock(pageSize int) (*Store, *MockTransport) {
	rt := &MockTransport{objects: make(map[string]mockObject), PageSize: pageSize}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(DefaultRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.RetryMaxAttempts = 1
	})
	return NewWithClient(client, mockBucket), rt
}

type mockObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// MockTransport is an http.RoundTripper emulating a path-style S3 endpoint.
type MockTransport struct {
	mu       sync.Mutex
	objects  map[string]mockObject
	PageSize int
	// Fail forces every request with this method to return a 500.
	Fail string
}

func emptyResponse(status int, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil)), Header: header}
}

func xmlResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": {"application/xml"}},
	}
}

const noSuchKey = `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

// RoundTrip serves one S3 request.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != "" && req.Method == m.Fail {
		return xmlResponse(http.StatusInternalServerError, `<?xml version="1.0"?><Error><Code>InternalError</Code><Message>injected</Message></Error>`), nil
	}
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return m.list(req), nil
	}
	switch req.Method {
	case http.MethodHead:
		obj, ok := m.objects[key]
		if !ok {
			return emptyResponse(http.StatusNotFound, nil), nil
		}
		return emptyResponse(http.StatusOK, obj.header()), nil
	case http.MethodGet:
		obj, ok := m.objects[key]
		if !ok {
			return xmlResponse(http.StatusNotFound, noSuchKey), nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(obj.body)), Header: obj.header()}, nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeChunked(body)
		}
		md := make(map[string]string)
		for name, values := range req.Header {
			lower := strings.ToLower(name)
			if strings.HasPrefix(lower, "x-amz-meta-") && len(values) > 0 {
				md[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
			}
		}
		m.objects[key] = mockObject{body: body, contentType: req.Header.Get("Content-Type"), metadata: md, modified: time.Now().UTC()}
		return emptyResponse(http.StatusOK, http.Header{"ETag": {etag(body)}}), nil
	case http.MethodDelete:
		delete(m.objects, key)
		return emptyResponse(http.StatusNoContent, nil), nil
	}
	return emptyResponse(http.StatusNotImplemented, nil), nil
}

func (m *MockTransport) list(req *http.Request) *http.Response {
	q := req.URL.Query()
	prefix := q.Get("prefix")
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if tok := q.Get("continuation-token"); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := len(keys)
	if m.PageSize > 0 && start+m.PageSize < end {
		end = start + m.PageSize
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult>`)
	if end < len(keys) {
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%d</NextContinuationToken>", end)
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range keys[start:end] {
		obj := m.objects[k]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>%s</ETag><LastModified>%s</LastModified></Contents>",
			k, len(obj.body), etag(obj.body), obj.modified.Format(time.RFC3339))
	}
	b.WriteString("</ListBucketResult>")
	return xmlResponse(http.StatusOK, b.String())
}

func (o mockObject) header() http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(o.body))},
		"Content-Type":   {o.contentType},
		"ETag":           {etag(o.body)},
		"Last-Modified":  {o.modified.Format(http.TimeFormat)},
	}
	for k, v := range o.metadata {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func etag(body []byte) string {
	return fmt.Sprintf(`"%x"`, len(body))
}

// decodeChunked strips aws-chunked framing: repeated `<hex>[;ext]\r\n<data>\r\n`
// terminated by a zero-length chunk and optional trailers.
func decodeChunked(b []byte) []byte {
	var out []byte
	for len(b) > 0 {
		line, rest, ok := bytes.Cut(b, []byte("\r\n"))
		if !ok {
			break
		}
		sizeField, _, _ := bytes.Cut(line, []byte(";"))
		size, err := strconv.ParseInt(string(sizeField), 16, 64)
		if err != nil || size == 0 || int64(len(rest)) < size {
			break
		}
		out = append(out, rest[:size]...)
		b = bytes.TrimPrefix(rest[size:], []byte("\r\n"))
	}
	return out
}
