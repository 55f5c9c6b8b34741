package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"
)

// Signer signs the canonical request of a signed URL on behalf of a service account.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// KeySigner signs locally with a service account key.
type KeySigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewKeySigner parses a service account JSON key.
func NewKeySigner(keyJSON []byte) (*KeySigner, error) {
	var account struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(keyJSON, &account); err != nil {
		return nil, fmt.Errorf("storage: decode service account key: %w", err)
	}
	email := strings.TrimSpace(account.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: service account key has no client_email")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("storage: service account private key: %w", err)
	}
	return &KeySigner{email: email, key: key}, nil
}

// LoadKeySigner accepts inline key JSON, as resolved from a secret reference, or a key file path.
func LoadKeySigner(credentials string) (*KeySigner, error) {
	credentials = strings.TrimSpace(credentials)
	if strings.HasPrefix(credentials, "{") {
		return NewKeySigner([]byte(credentials))
	}
	if credentials == "" {
		return nil, errors.New("storage: signer credentials are empty")
	}
	data, err := os.ReadFile(credentials)
	if err != nil {
		return nil, fmt.Errorf("storage: read service account key: %w", err)
	}
	return NewKeySigner(data)
}

func (s *KeySigner) Email() string { return s.email }

func (s *KeySigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}

// IAMSigner delegates signing to the IAM Credentials API, for runtimes without a key file. The
// caller's identity needs iam.serviceAccounts.signBlob on the target account.
type IAMSigner struct {
	email   string
	service *iamcredentials.Service
}

func NewIAMSigner(ctx context.Context, email string, opts ...option.ClientOption) (*IAMSigner, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("storage: signer email is required")
	}
	service, err := iamcredentials.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: iam credentials client: %w", err)
	}
	return &IAMSigner{email: email, service: service}, nil
}

func (s *IAMSigner) Email() string { return s.email }

func (s *IAMSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	name := "projects/-/serviceAccounts/" + s.email
	resp, err := s.service.Projects.ServiceAccounts.SignBlob(name, &iamcredentials.SignBlobRequest{
		Payload: base64.StdEncoding.EncodeToString(payload),
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("storage: sign blob: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(resp.SignedBlob)
	if err != nil {
		return nil, fmt.Errorf("storage: decode signed blob: %w", err)
	}
	return sig, nil
}
