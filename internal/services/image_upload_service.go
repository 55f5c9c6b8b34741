package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	pstorage "github.com/tripdesk/api/internal/platform/storage"
	"github.com/tripdesk/api/internal/repositories"
)

const (
	maxServiceImageSize       = int64(10 * 1024 * 1024) // 10 MiB
	imageUploadEventIssued    = "service.image.upload.issued"
	defaultImageUploadExpires = 15 * time.Minute
)

var allowedImageTypes = map[string][]string{
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".png":  {"image/png"},
	".gif":  {"image/gif"},
	".webp": {"image/webp"},
	".pdf":  {"application/pdf"},
}

var (
	// ErrImageUploadInvalidInput signals an unsupported file or missing field.
	ErrImageUploadInvalidInput = errors.New("image upload: invalid input")
	// ErrImageUploadUnavailable indicates signing is not configured or failed.
	ErrImageUploadUnavailable = errors.New("image upload: unavailable")
)

// UploadURLSigner issues signed upload URLs for an object.
type UploadURLSigner interface {
	SignUpload(ctx context.Context, bucket, object string, opts pstorage.UploadOptions) (pstorage.SignedURLResult, error)
}

// ImageUploadServiceDeps bundles collaborators required to construct the image upload service.
type ImageUploadServiceDeps struct {
	Services  repositories.ServiceRepository
	Signer    UploadURLSigner
	Bucket    string
	ExpiresIn time.Duration
	NewObject func() string
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type imageUploadService struct {
	services  repositories.ServiceRepository
	signer    UploadURLSigner
	bucket    string
	expiresIn time.Duration
	newObject func() string
	logger    func(context.Context, string, map[string]any)
}

// NewImageUploadService constructs the signed upload service.
func NewImageUploadService(deps ImageUploadServiceDeps) (ImageUploadService, error) {
	if deps.Services == nil {
		return nil, errors.New("image upload service: service repository is required")
	}
	if deps.Signer == nil {
		return nil, errors.New("image upload service: signer is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errors.New("image upload service: bucket is required")
	}
	expires := deps.ExpiresIn
	if expires <= 0 {
		expires = defaultImageUploadExpires
	}
	newObject := deps.NewObject
	if newObject == nil {
		newObject = func() string { return uuid.NewString() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &imageUploadService{
		services:  deps.Services,
		signer:    deps.Signer,
		bucket:    bucket,
		expiresIn: expires,
		newObject: newObject,
		logger:    logger,
	}, nil
}

// IssueUploadURL returns a signed URL for a new image object under the service. The image is attached
// afterwards by registering the returned public URL.
func (s *imageUploadService) IssueUploadURL(ctx context.Context, cmd IssueUploadURLCommand) (SignedUploadURL, error) {
	serviceID := strings.TrimSpace(cmd.ServiceID)
	if serviceID == "" {
		return SignedUploadURL{}, fmt.Errorf("%w: service id is required", ErrImageUploadInvalidInput)
	}
	ext := pstorage.Extension(cmd.FileName)
	contentTypes, ok := allowedImageTypes[ext]
	if !ok {
		return SignedUploadURL{}, fmt.Errorf("%w: file type %q is not allowed", ErrImageUploadInvalidInput, ext)
	}
	if cmd.Size <= 0 {
		return SignedUploadURL{}, fmt.Errorf("%w: size is required", ErrImageUploadInvalidInput)
	}
	if cmd.Size > maxServiceImageSize {
		return SignedUploadURL{}, fmt.Errorf("%w: file exceeds %d bytes", ErrImageUploadInvalidInput, maxServiceImageSize)
	}
	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	if contentType == "" {
		contentType = contentTypes[0]
	}

	if _, err := s.services.FindByID(ctx, serviceID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return SignedUploadURL{}, fmt.Errorf("%w: %v", ErrOrderServiceNotFound, err)
		}
		return SignedUploadURL{}, fmt.Errorf("%w: %v", ErrImageUploadUnavailable, err)
	}

	object, err := pstorage.ServiceImagePath(serviceID, s.newObject(), cmd.FileName)
	if err != nil {
		return SignedUploadURL{}, fmt.Errorf("%w: %v", ErrImageUploadInvalidInput, err)
	}
	signed, err := s.signer.SignUpload(ctx, s.bucket, object, pstorage.UploadOptions{
		ContentType:         contentType,
		AllowedContentTypes: contentTypes,
		Size:                cmd.Size,
		MaxSize:             maxServiceImageSize,
		ExpiresIn:           s.expiresIn,
	})
	if err != nil {
		if errors.Is(err, pstorage.ErrContentTypeDenied) || errors.Is(err, pstorage.ErrObjectTooLarge) {
			return SignedUploadURL{}, fmt.Errorf("%w: %v", ErrImageUploadInvalidInput, err)
		}
		return SignedUploadURL{}, fmt.Errorf("%w: %v", ErrImageUploadUnavailable, err)
	}

	s.logger(ctx, imageUploadEventIssued, map[string]any{
		"service": serviceID,
		"object":  object,
		"size":    cmd.Size,
		"actor":   cmd.ActorID,
	})

	return SignedUploadURL{
		ObjectPath: object,
		URL:        signed.URL,
		PublicURL:  pstorage.PublicURL(s.bucket, object),
		ExpiresAt:  signed.ExpiresAt,
		Method:     signed.Method,
		Headers:    signed.Headers,
	}, nil
}
