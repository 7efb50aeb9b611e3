package backgrounderase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// countingClient returns a client whose transport counts calls and fails
// them with err.
func countingClient(calls *int32, err error) *Client {
	c := NewClient()
	c.HTTPClient = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(calls, 1)
		return nil, err
	})}
	return c
}

func testServer(t *testing.T, status int, body []byte) (*httptest.Server, *int32) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeSource(t *testing.T, name string, data []byte) string {
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestUploadRequestShape(t *testing.T) {
	src := writeSource(t, "Cat.JPEG", []byte("jpeg-data"))
	dst := filepath.Join(t.TempDir(), "out.png")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		assert.Empty(t, r.Header.Get("Expect"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Empty(t, r.MultipartForm.Value)
		assert.Len(t, r.MultipartForm.File, 1)
		files := r.MultipartForm.File[formField]
		if !assert.Len(t, files, 1) {
			return
		}
		assert.Equal(t, "Cat.JPEG", files[0].Filename)
		assert.Equal(t, "image/jpeg", files[0].Header.Get("Content-Type"))

		f, err := files[0].Open()
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "jpeg-data", string(data))

		_, _ = w.Write([]byte("png-result"))
	}))
	defer srv.Close()

	c := NewClient()
	c.Endpoint = srv.URL
	require.NoError(t, c.Upload(context.Background(), src, dst, "secret"))
}

func TestUploadSuccessWritesBody(t *testing.T) {
	want := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff, 0x10}
	srv, _ := testServer(t, http.StatusOK, want)
	src := writeSource(t, "in.png", []byte("input"))
	dst := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, os.WriteFile(dst, []byte("old contents that are longer"), 0o644))

	c := NewClient()
	c.Endpoint = srv.URL
	require.NoError(t, c.Upload(context.Background(), src, dst, "key"))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUploadIsRepeatable(t *testing.T) {
	srv, calls := testServer(t, http.StatusOK, []byte("same-bytes"))
	src := writeSource(t, "in.png", []byte("input"))
	dst := filepath.Join(t.TempDir(), "out.png")

	c := NewClient()
	c.Endpoint = srv.URL
	require.NoError(t, c.Upload(context.Background(), src, dst, "key"))
	first, err := os.ReadFile(dst)
	require.NoError(t, err)

	require.NoError(t, c.Upload(context.Background(), src, dst, "key"))
	second, err := os.ReadFile(dst)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestUploadServerError(t *testing.T) {
	srv, _ := testServer(t, http.StatusForbidden, []byte("forbidden"))
	src := writeSource(t, "in.png", []byte("input"))
	dst := filepath.Join(t.TempDir(), "out.png")

	c := NewClient()
	c.Endpoint = srv.URL
	err := c.Upload(context.Background(), src, dst, "key")

	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, "forbidden", string(se.Body))
	assert.NoFileExists(t, dst)
}

func TestUploadServerErrorKeepsExistingDestination(t *testing.T) {
	srv, _ := testServer(t, http.StatusPaymentRequired, []byte(`{"error":"no credits"}`))
	src := writeSource(t, "in.png", []byte("input"))
	dst := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, os.WriteFile(dst, []byte("previous"), 0o644))

	c := NewClient()
	c.Endpoint = srv.URL
	require.Error(t, c.Upload(context.Background(), src, dst, "key"))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))
}

func TestUploadTransportError(t *testing.T) {
	var calls int32
	c := countingClient(&calls, errors.New("connection refused"))
	src := writeSource(t, "in.png", []byte("input"))
	dst := filepath.Join(t.TempDir(), "out.png")

	err := c.Upload(context.Background(), src, dst, "key")

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int32(1), calls)
	assert.NoFileExists(t, dst)
}

func TestUploadClosedServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	src := writeSource(t, "in.png", []byte("input"))
	dst := filepath.Join(t.TempDir(), "out.png")

	c := NewClient()
	c.Endpoint = url
	err := c.Upload(context.Background(), src, dst, "key")

	var te *TransportError
	assert.ErrorAs(t, err, &te)
	assert.NoFileExists(t, dst)
}

func TestUploadMissingAPIKey(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	withDefaultAPIKey(t, "")

	var calls int32
	c := countingClient(&calls, errors.New("unreachable"))
	src := writeSource(t, "in.png", []byte("input"))
	dst := filepath.Join(t.TempDir(), "out.png")

	err := c.Upload(context.Background(), src, dst, ResolveAPIKey(""))

	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Equal(t, int32(0), calls)
	assert.NoFileExists(t, dst)
}

func TestUploadMissingSource(t *testing.T) {
	var calls int32
	c := countingClient(&calls, errors.New("unreachable"))
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.png")

	err := c.Upload(context.Background(), filepath.Join(dir, "missing.png"), dst, "key")

	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.Equal(t, int32(0), calls)
	assert.NoFileExists(t, dst)
}

func TestUploadUnwritableDestination(t *testing.T) {
	srv, calls := testServer(t, http.StatusOK, []byte("result"))
	src := writeSource(t, "in.png", []byte("input"))
	dst := filepath.Join(t.TempDir(), "no-such-dir", "out.png")

	c := NewClient()
	c.Endpoint = srv.URL
	err := c.Upload(context.Background(), src, dst, "key")

	var fe *FilesystemError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, dst, fe.Path)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestNewClientEndpointFromEnv(t *testing.T) {
	t.Setenv(EndpointEnv, "https://gateway.example/v2")
	assert.Equal(t, "https://gateway.example/v2", NewClient().Endpoint)

	t.Setenv(EndpointEnv, "")
	assert.Equal(t, DefaultEndpoint, NewClient().Endpoint)
}

func TestNewClientTimeouts(t *testing.T) {
	c := NewClient()
	assert.Equal(t, TotalTimeout, c.HTTPClient.Timeout)

	transport, ok := c.HTTPClient.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, ConnectTimeout, transport.TLSHandshakeTimeout)
	assert.Zero(t, transport.ExpectContinueTimeout)
}

func TestEncodeFormEscapesLineBreaks(t *testing.T) {
	body, contentType, err := encodeForm(Image{
		FileName:    "a\r\nX-Injected: 1\r\n.png",
		ContentType: "image/png",
		Data:        []byte("png"),
	})
	require.NoError(t, err)
	assert.NotContains(t, string(body), "\r\nX-Injected")

	_, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])

	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Empty(t, part.Header.Get("X-Injected"))
	assert.Equal(t, "image/png", part.Header.Get("Content-Type"))
	assert.Equal(t, "a%0D%0AX-Injected: 1%0D%0A.png", part.FileName())

	_, err = mr.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}
