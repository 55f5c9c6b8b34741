package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultUploadExpiry = 15 * time.Minute
	maxUploadExpiry     = time.Hour

	httpMethodPut  = "PUT"
	httpMethodPost = "POST"
)

var (
	errNoSigner           = errors.New("storage: signer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errMethodNotAllowed   = errors.New("storage: HTTP method not allowed for uploads")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	errMD5Invalid         = errors.New("storage: content MD5 must be base64 encoded")
	errExpiryTooLong      = errors.New("storage: expiry exceeds permitted maximum")

	// ErrContentTypeDenied is returned when the upload content type is outside the allowed set.
	ErrContentTypeDenied = errors.New("storage: content type not allowed")
	// ErrObjectTooLarge is returned when the declared upload size exceeds the limit.
	ErrObjectTooLarge = errors.New("storage: object exceeds maximum size")
)

// Client generates signed upload URLs backed by a Signer.
type Client struct {
	signer Signer
	scheme storage.SigningScheme
	now    func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithSigningScheme overrides the signing scheme (defaults to V4).
func WithSigningScheme(scheme storage.SigningScheme) ClientOption {
	return func(c *Client) {
		if scheme != 0 {
			c.scheme = scheme
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient constructs a new signed URL client.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}

	client := &Client{
		signer: signer,
		scheme: storage.SigningSchemeV4,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// UploadOptions control upload validation and the headers bound into the signature.
type UploadOptions struct {
	Method              string
	ContentType         string
	ContentMD5          string
	AllowedContentTypes []string
	// Size is the declared object size; it is checked against MaxSize when both are set.
	Size              int64
	MaxSize           int64
	ExpiresIn         time.Duration
	AdditionalHeaders map[string]string
}

// SignedURLResult describes the generated signed URL details.
type SignedURLResult struct {
	URL       string
	Method    string
	ExpiresAt time.Time
	Headers   map[string]string
}

// SignUpload creates a signed URL the caller can upload object to directly. The client must send the
// returned headers unchanged.
func (c *Client) SignUpload(ctx context.Context, bucket, object string, opts UploadOptions) (SignedURLResult, error) {
	if c == nil {
		return SignedURLResult{}, errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return SignedURLResult{}, errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedURLResult{}, errInvalidObject
	}

	method, err := normaliseUploadMethod(opts.Method)
	if err != nil {
		return SignedURLResult{}, err
	}
	contentType := strings.ToLower(strings.TrimSpace(opts.ContentType))
	if contentType == "" {
		return SignedURLResult{}, errContentTypeMissing
	}
	if len(opts.AllowedContentTypes) > 0 && !contentTypeAllowed(contentType, opts.AllowedContentTypes) {
		return SignedURLResult{}, ErrContentTypeDenied
	}
	if opts.MaxSize > 0 && opts.Size > opts.MaxSize {
		return SignedURLResult{}, ErrObjectTooLarge
	}

	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultUploadExpiry
	}
	if expiry > maxUploadExpiry {
		return SignedURLResult{}, errExpiryTooLong
	}

	md5 := strings.TrimSpace(opts.ContentMD5)
	if md5 != "" {
		if _, err := base64.StdEncoding.DecodeString(md5); err != nil {
			return SignedURLResult{}, errMD5Invalid
		}
	}

	headers := map[string]string{"Content-Type": contentType}
	var extHeaders []string
	if md5 != "" {
		headers["Content-MD5"] = md5
	}
	if opts.MaxSize > 0 {
		sizeRange := fmt.Sprintf("0,%d", opts.MaxSize)
		extHeaders = append(extHeaders, "x-goog-content-length-range:"+sizeRange)
		headers["x-goog-content-length-range"] = sizeRange
	}
	keys := make([]string, 0, len(opts.AdditionalHeaders))
	for k := range opts.AdditionalHeaders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := strings.TrimSpace(opts.AdditionalHeaders[key])
		if value == "" {
			continue
		}
		extHeaders = append(extHeaders, fmt.Sprintf("%s:%s", strings.ToLower(strings.TrimSpace(key)), value))
		headers[key] = value
	}

	expiresAt := c.now().Add(expiry)
	signedURL, err := storage.SignedURL(bucket, object, &storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         c.scheme,
		Method:         method,
		ContentType:    contentType,
		MD5:            md5,
		Headers:        extHeaders,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign upload url: %w", err)
	}

	return SignedURLResult{
		URL:       signedURL,
		Method:    method,
		ExpiresAt: expiresAt,
		Headers:   headers,
	}, nil
}

func normaliseUploadMethod(method string) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = httpMethodPut
	}
	switch method {
	case httpMethodPut, httpMethodPost:
		return method, nil
	default:
		return "", errMethodNotAllowed
	}
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		switch {
		case candidate == "":
			continue
		case candidate == "*":
			return true
		case strings.HasSuffix(candidate, "/*"):
			if strings.HasPrefix(contentType, strings.TrimSuffix(candidate, "*")) {
				return true
			}
		case contentType == candidate:
			return true
		}
	}
	return false
}
