// Package fonnte implements ports.MessageGateway against a Fonnte-style
// WhatsApp HTTP API.
package fonnte

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"time"

	"golang-wa-dispatch/internal/ports"
)

// Client posts one multipart form per message to the gateway's /send
// endpoint, the run token in the Authorization header.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Send submits one message. The reply body is returned verbatim for any
// HTTP status; only a transport-level failure is an error. Gateway-side
// success semantics are deliberately not interpreted here.
func (c *Client) Send(ctx context.Context, token string, req ports.SendRequest) (ports.SendResult, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	if err := writeFields(form, req); err != nil {
		return ports.SendResult{}, fmt.Errorf("encode form: %w", err)
	}
	if err := form.Close(); err != nil {
		return ports.SendResult{}, fmt.Errorf("close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", &buf)
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.Header.Set("Authorization", token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("read reply: %w", err)
	}

	return ports.SendResult{StatusCode: resp.StatusCode, Reply: string(reply)}, nil
}

func writeFields(form *multipart.Writer, req ports.SendRequest) error {
	if err := form.WriteField("target", req.Target); err != nil {
		return err
	}
	if err := form.WriteField("message", req.Message); err != nil {
		return err
	}

	switch {
	case req.PublicURL != "":
		// Pre-uploaded file referenced by URL; the filename field tells
		// the gateway the media type.
		if err := form.WriteField("url", req.PublicURL); err != nil {
			return err
		}
		if name := path.Base(req.PublicURL); path.Ext(name) != "" {
			if err := form.WriteField("filename", name); err != nil {
				return err
			}
		}
	case req.Attachment != nil:
		fw, err := form.CreateFormFile("file", req.Attachment.Filename)
		if err != nil {
			return err
		}
		if _, err := fw.Write(req.Attachment.Data); err != nil {
			return err
		}
	}
	return nil
}
