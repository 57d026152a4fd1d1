package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"cashrecon/backend/internal/domain"
)

// ErrDisabled is returned when no extraction backend is configured.
var ErrDisabled = errors.New("ocr extraction is not configured")

// Extractor reads a document image and returns the fields it recognised.
// Results are drafts for the user to correct; nothing here is persisted.
type Extractor interface {
	Extract(ctx context.Context, docType domain.DocumentType, filename string, image []byte) (domain.OCRResult, error)
}

type DisabledExtractor struct{}

func (DisabledExtractor) Extract(_ context.Context, _ domain.DocumentType, _ string, _ []byte) (domain.OCRResult, error) {
	return domain.OCRResult{}, ErrDisabled
}

// HTTPExtractor posts the image as multipart form data to an external OCR
// endpoint and expects an OCRResult-shaped JSON body back.
type HTTPExtractor struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPExtractor(endpoint string, apiKey string, timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExtractor{
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		client:   &http.Client{Timeout: timeout},
	}
}

func (e *HTTPExtractor) Extract(ctx context.Context, docType domain.DocumentType, filename string, image []byte) (domain.OCRResult, error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	if err := form.WriteField("documentType", string(docType)); err != nil {
		return domain.OCRResult{}, err
	}
	part, err := form.CreateFormFile("image", filename)
	if err != nil {
		return domain.OCRResult{}, err
	}
	if _, err := part.Write(image); err != nil {
		return domain.OCRResult{}, err
	}
	if err := form.Close(); err != nil {
		return domain.OCRResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, body)
	if err != nil {
		return domain.OCRResult{}, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.OCRResult{}, fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.OCRResult{}, fmt.Errorf("read ocr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.OCRResult{}, fmt.Errorf("ocr endpoint returned %d", resp.StatusCode)
	}

	var result domain.OCRResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.OCRResult{}, fmt.Errorf("decode ocr response: %w", err)
	}
	result.DocumentType = docType
	return result, nil
}
