package backgrounderase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

const (
	DefaultEndpoint = "https://api.backgrounderase.net/v2"
	// EndpointEnv overrides DefaultEndpoint, mostly for self-hosted gateways.
	EndpointEnv = "BACKGROUND_ERASE_URL"

	UserAgent = "bgerase-go/1.0"

	ConnectTimeout = 15 * time.Second
	TotalTimeout   = 300 * time.Second

	formField = "image_file"
)

// Client talks to the background removal API. It is safe for concurrent use.
type Client struct {
	Endpoint   string
	UserAgent  string
	HTTPClient *http.Client
}

func NewClient() *Client {
	endpoint := os.Getenv(EndpointEnv)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = ConnectTimeout
	// The request never carries "Expect: 100-continue", so the body is sent
	// right after the headers.
	transport.ExpectContinueTimeout = 0

	return &Client{
		Endpoint:  endpoint,
		UserAgent: UserAgent,
		HTTPClient: &http.Client{
			Transport: transport,
			Timeout:   TotalTimeout,
		},
	}
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	c.HTTPClient.CloseIdleConnections()
}

// Upload sends the image at src to the API and writes the processed image
// to dst. dst is only touched once the full response has been received with
// status 200.
func (c *Client) Upload(ctx context.Context, src, dst, apiKey string) error {
	if apiKey == "" {
		return &PreconditionError{Err: ErrMissingAPIKey}
	}
	img, err := LoadImage(src)
	if err != nil {
		return err
	}

	result, err := c.Remove(ctx, img, apiKey)
	if err != nil {
		return err
	}

	if err := os.WriteFile(dst, result, 0o644); err != nil {
		return &FilesystemError{Path: dst, Err: err}
	}
	logrus.WithField("size", humanize.Bytes(uint64(len(result)))).Debugf("wrote %s", dst)
	return nil
}

// Remove performs a single erase request and returns the response body of a
// 200 reply.
func (c *Client) Remove(ctx context.Context, img Image, apiKey string) ([]byte, error) {
	if apiKey == "" {
		return nil, &PreconditionError{Err: ErrMissingAPIKey}
	}

	body, contentType, err := encodeForm(img)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"x-api-key":    apiKey,
		"Content-Type": contentType,
		"User-Agent":   c.UserAgent,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	logrus.WithFields(logrus.Fields{
		"file":         img.FileName,
		"content_type": img.ContentType,
		"size":         humanize.Bytes(uint64(len(img.Data))),
	}).Debugf("POST %s", c.Endpoint)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read response: %w", err)}
	}
	logrus.Debugf("response %d, %s", resp.StatusCode, humanize.Bytes(uint64(len(respBody))))

	if resp.StatusCode != http.StatusOK {
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}

// CR and LF are percent-encoded so a file name cannot add part headers.
var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"", "\r", "%0D", "\n", "%0A")

// encodeForm builds the multipart body with the single image_file part.
func encodeForm(img Image) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	contentType := img.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		formField, quoteEscaper.Replace(img.FileName)))
	h.Set("Content-Type", contentType)

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", fmt.Errorf("write form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}
