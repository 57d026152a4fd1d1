package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"time"

	"go.uber.org/zap"

	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/blob"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/ocr"
	"cashrecon/backend/internal/xid"
)

const signedURLTTL = 7 * 24 * time.Hour

var allowedImageTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// UploadDocument stores a scanned document and returns a signed URL for it.
// The URL is what closings and deposits keep.
func (s *Service) UploadDocument(ctx context.Context, docType domain.DocumentType, filename string, data []byte) (domain.UploadResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.UploadResult{}, err
	}
	if s.blobs == nil {
		return domain.UploadResult{}, apperr.New(apperr.KindInternal, "uploads are not configured")
	}
	ext, err := checkDocument(docType, data)
	if err != nil {
		return domain.UploadResult{}, err
	}

	key := path.Join(string(docType), s.now().Format("2006/01/02"), xid.New("doc")+ext)
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return domain.UploadResult{}, apperr.Wrap(apperr.KindInternal, err, "failed to store upload")
	}
	url, err := s.blobs.SignedURL(key, signedURLTTL)
	if err != nil {
		return domain.UploadResult{}, apperr.Wrap(apperr.KindInternal, err, "failed to sign upload url")
	}

	s.logger.Info("[upload] stored document",
		zap.String("key", key),
		zap.String("type", string(docType)),
		zap.String("original_name", filename),
		zap.String("user_id", actor.UserID),
		zap.Int("bytes", len(data)),
	)
	return domain.UploadResult{Key: key, URL: url, DocumentType: docType, Size: int64(len(data))}, nil
}

// OpenDocument serves a stored document to anyone holding a valid signature.
func (s *Service) OpenDocument(ctx context.Context, key string, expires string, sig string) (io.ReadCloser, error) {
	if s.blobs == nil {
		return nil, apperr.NotFound("file not found")
	}
	if err := s.blobs.Verify(key, expires, sig); err != nil {
		return nil, apperr.Forbidden("invalid or expired file link")
	}
	r, err := s.blobs.Open(ctx, key)
	if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) {
		return nil, apperr.NotFound("file not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "failed to open file")
	}
	return r, nil
}

// ExtractDocument runs OCR on an image and returns the draft fields. Nothing
// is stored; the caller reviews the values before creating a closing.
func (s *Service) ExtractDocument(ctx context.Context, docType domain.DocumentType, filename string, data []byte) (domain.OCRResult, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.OCRResult{}, err
	}
	if _, err := checkDocument(docType, data); err != nil {
		return domain.OCRResult{}, err
	}
	if s.extractor == nil {
		return domain.OCRResult{Success: false, DocumentType: docType, Error: ocr.ErrDisabled.Error()}, nil
	}

	result, err := s.extractor.Extract(ctx, docType, filename, data)
	if err != nil {
		s.logger.Warn("[ocr] extraction failed", zap.String("type", string(docType)), zap.Error(err))
		return domain.OCRResult{Success: false, DocumentType: docType, Error: err.Error()}, nil
	}
	return result, nil
}

func checkDocument(docType domain.DocumentType, data []byte) (string, error) {
	if !docType.Valid() {
		return "", apperr.Validation("unknown document type %q", docType).WithDetail("field", "documentType")
	}
	if len(data) == 0 {
		return "", apperr.Validation("file is empty").WithDetail("field", "file")
	}
	contentType := http.DetectContentType(data)
	ext, ok := allowedImageTypes[contentType]
	if !ok {
		return "", apperr.Validation("unsupported file type %s", contentType).WithDetail("field", "file")
	}
	return ext, nil
}
