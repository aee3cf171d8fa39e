// Package upload is the Upload Authorizer: it issues time-bounded,
// size-bounded, content-type-bounded direct-to-object-store upload
// grants and performs the key-format derivation later relied on for
// path-ownership checks.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/meshforge/listings/pkg/apierr"
	"github.com/meshforge/listings/pkg/objectstore"
	"golang.org/x/time/rate"
)

// IncomingBucket is the private bucket that receives direct uploads.
const IncomingBucket = "incoming-files"

// KindConfig describes the constraints applied to one upload kind.
type KindConfig struct {
	MaxBytes         int64
	AllowedMimeTypes []string
	KeyPrefix        string
}

// DefaultKindConfigs returns the spec's default limits for the two
// upload kinds.
func DefaultKindConfigs() map[string]KindConfig {
	return map[string]KindConfig{
		"image": {
			MaxBytes:         5 * 1024 * 1024,
			AllowedMimeTypes: []string{"image/jpeg", "image/png", "image/gif"},
			KeyPrefix:        "images",
		},
		"model": {
			MaxBytes:         50 * 1024 * 1024,
			AllowedMimeTypes: []string{"model/stl", "model/3mf", "application/octet-stream"},
			KeyPrefix:        "models",
		},
	}
}

// extensionMimeTable infers a content type from a filename extension
// when the request omits one.
var extensionMimeTable = map[string]string{
	".stl": "model/stl",
	".3mf": "model/3mf",
	".obj": "application/octet-stream",
}

// Request is the input to Authorize.
type Request struct {
	Kind        string // "image" or "model"
	Filename    string
	ContentType string
	DraftID     string
}

// Authorizer implements authorizeUpload.
type Authorizer struct {
	store       objectstore.Store
	kinds       map[string]KindConfig
	expiresIn   time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds an Authorizer over the given object store and kind
// configuration, with upload grants valid for expiresIn.
func New(store objectstore.Store, kinds map[string]KindConfig, expiresIn time.Duration) *Authorizer {
	return &Authorizer{
		store:     store,
		kinds:     kinds,
		expiresIn: expiresIn,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Authorize validates req for userID and, on success, returns a
// presigned POST upload policy scoped to every dimension an attacker
// could abuse: location, size, type, and lifetime.
func (a *Authorizer) Authorize(ctx context.Context, userID string, req Request) (*objectstore.UploadPolicy, error) {
	if !a.allow(userID) {
		return nil, apierr.Invalid("too many upload requests, slow down")
	}

	kindCfg, ok := a.kinds[req.Kind]
	if !ok {
		return nil, apierr.Invalid("unknown upload kind %q", req.Kind)
	}
	if req.DraftID == "" {
		return nil, apierr.Invalid("draftId is required")
	}
	if req.Filename == "" {
		return nil, apierr.Invalid("filename is required")
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = inferContentType(req.Filename)
	}
	if !contains(kindCfg.AllowedMimeTypes, contentType) {
		return nil, apierr.Invalid("content type %q is not allowed for kind %q", contentType, req.Kind)
	}

	key := DeriveKey(time.Now().UTC(), userID, req.DraftID, kindCfg.KeyPrefix, req.Filename)

	policy, err := a.store.PresignPost(ctx, objectstore.PostPolicyInput{
		Bucket:       IncomingBucket,
		Key:          key,
		ContentType:  contentType,
		MinSizeBytes: 1024,
		MaxSizeBytes: kindCfg.MaxBytes,
		ExpiresIn:    a.expiresIn,
	})
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("presign upload: %w", err))
	}
	return policy, nil
}

// DeriveKey produces the bit-exact object key format relied on later
// for path-ownership checks:
// YYYY/MM/DD/{userId}/{draftId}/{kindPrefix}/{sha256(filename)}{ext}
func DeriveKey(at time.Time, userID, draftID, kindPrefix, filename string) string {
	sum := sha256.Sum256([]byte(filename))
	ext := filepath.Ext(filename)
	return fmt.Sprintf("%04d/%02d/%02d/%s/%s/%s/%s%s",
		at.Year(), at.Month(), at.Day(),
		userID, draftID, kindPrefix,
		hex.EncodeToString(sum[:]), ext,
	)
}

// OwnerFromPath extracts the user-id path segment (index 3) of the
// upload key format, the same segment the listing orchestrator's own
// path-ownership check reads.
func OwnerFromPath(path string) (string, bool) {
	segments := strings.Split(path, "/")
	if len(segments) <= 3 {
		return "", false
	}
	return segments[3], true
}

func inferContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if mime, ok := extensionMimeTable[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (a *Authorizer) allow(userID string) bool {
	a.mu.Lock()
	limiter, ok := a.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(2), 10)
		a.limiters[userID] = limiter
	}
	a.mu.Unlock()
	return limiter.Allow()
}
