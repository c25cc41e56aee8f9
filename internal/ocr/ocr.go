package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// Client calls a vision API's images:annotate endpoint to run document
// text detection on uploaded study material.
type Client struct {
	endpoint string
	apiKey   string
	httpc    *http.Client
}

// New creates an OCR client for the given annotate endpoint.
func New(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpc:    &http.Client{Timeout: defaultTimeout},
	}
}

type annotateRequest struct {
	Requests []annotateEntry `json:"requests"`
}

type annotateEntry struct {
	Image    imageContent `json:"image"`
	Features []feature    `json:"features"`
}

type imageContent struct {
	Content string `json:"content"`
}

type feature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []struct {
		FullTextAnnotation *struct {
			Text string `json:"text"`
		} `json:"fullTextAnnotation"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

// ExtractText sends one image for document text detection and returns the
// full extracted text. A response without a text annotation yields an
// empty string, not an error; minimum-content policy belongs to the caller.
func (c *Client) ExtractText(ctx context.Context, image []byte) (string, error) {
	body, err := json.Marshal(annotateRequest{
		Requests: []annotateEntry{{
			Image:    imageContent{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []feature{{Type: "DOCUMENT_TEXT_DETECTION"}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("encode annotate request: %w", err)
	}

	url := c.endpoint
	if c.apiKey != "" {
		url += "?key=" + c.apiKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build annotate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("annotate call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("annotate call: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode annotate response: %w", err)
	}
	if len(out.Responses) == 0 {
		return "", fmt.Errorf("annotate response has no entries")
	}

	entry := out.Responses[0]
	if entry.Error != nil {
		return "", fmt.Errorf("annotate error %d: %s", entry.Error.Code, entry.Error.Message)
	}
	if entry.FullTextAnnotation == nil {
		return "", nil
	}
	return entry.FullTextAnnotation.Text, nil
}
