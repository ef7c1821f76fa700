// Package media stores attachment bytes, derives thumbnails and serves them
// back to the participants of the owning message.
package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"campus-chat/internal/apperr"
	"campus-chat/internal/models"
)

const (
	thumbSuffix = ".thumb"
	assetPrefix = "asset-"
)

type Limits struct {
	ProfileMaxBytes int64
	ChatMaxBytes    int64
}

type Service struct {
	blobs  BlobStore
	limits Limits
	log    zerolog.Logger
}

func NewService(blobs BlobStore, limits Limits, log zerolog.Logger) *Service {
	return &Service{
		blobs:  blobs,
		limits: limits,
		log:    log.With().Str("component", "media").Logger(),
	}
}

func (s *Service) Limits() Limits { return s.limits }

// StoreAsset stores a profile-style asset under the profile size limit.
func (s *Service) StoreAsset(ctx context.Context, data []byte, fileName, contentType string) (*models.Attachment, error) {
	return s.store(ctx, assetPrefix, data, fileName, contentType, s.limits.ProfileMaxBytes)
}

// StoreChat stores a message attachment under the chat size limit.
func (s *Service) StoreChat(ctx context.Context, data []byte, fileName, contentType string) (*models.Attachment, error) {
	return s.store(ctx, "", data, fileName, contentType, s.limits.ChatMaxBytes)
}

// store writes data under a fresh key once the size checks pass. Images also
// get a thumbnail stored next to them.
func (s *Service) store(ctx context.Context, prefix string, data []byte, fileName, contentType string, limit int64) (*models.Attachment, error) {
	size := int64(len(data))
	if size == 0 {
		return nil, apperr.Validation("file is empty")
	}
	if limit > 0 && size > limit {
		return nil, apperr.Validation(fmt.Sprintf("file is %s, the limit is %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit))))
	}

	name := filepath.Base(strings.TrimSpace(fileName))
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	ext := strings.ToLower(filepath.Ext(name))
	key := prefix + uuid.NewString() + ext
	contentType = sniff(data, contentType, ext)

	if err := s.blobs.Put(ctx, key, data); err != nil {
		return nil, apperr.Internal("store media", err)
	}
	if models.TypeForContentType(contentType) == models.TypeImage {
		if thumb, ok := thumbnail(data, ext == ".png"); ok {
			if err := s.blobs.Put(ctx, key+thumbSuffix, thumb); err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("thumbnail not stored")
			}
		} else {
			s.log.Debug().Str("key", key).Msg("no thumbnail for image")
		}
	}
	s.log.Debug().Str("key", key).Str("size", humanize.IBytes(uint64(size))).Msg("media stored")

	return &models.Attachment{
		StorageKey:  key,
		FileName:    name,
		FileSize:    size,
		ContentType: contentType,
	}, nil
}

// sniff keeps a specific declared type and otherwise guesses from the
// extension and then the leading bytes.
func sniff(data []byte, declared, ext string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func (s *Service) get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.blobs.Get(ctx, key)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, apperr.NotFound("media not found")
	}
	if err != nil {
		return nil, apperr.Internal("load media", err)
	}
	return data, nil
}

func (s *Service) Retrieve(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, key)
}

// Thumbnail returns the derived thumbnail; non-images have none.
func (s *Service) Thumbnail(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, key+thumbSuffix)
}

// Asset returns a profile-style asset. Message attachments are never
// reachable through this path.
func (s *Service) Asset(ctx context.Context, key string) ([]byte, error) {
	if !strings.HasPrefix(key, assetPrefix) || strings.HasSuffix(key, thumbSuffix) {
		return nil, apperr.NotFound("media not found")
	}
	return s.get(ctx, key)
}

// Remove deletes a blob and its thumbnail.
func (s *Service) Remove(ctx context.Context, key string) error {
	return errors.Join(s.blobs.Delete(ctx, key), s.blobs.Delete(ctx, key+thumbSuffix))
}

// DeliveryType picks the response content type for an attachment. Images
// follow the file extension; other types keep what was recorded at upload.
func DeliveryType(typ models.MessageType, att *models.Attachment) string {
	ext := strings.ToLower(filepath.Ext(att.FileName))
	if typ == models.TypeImage {
		if ext == ".png" {
			return "image/png"
		}
		return "image/jpeg"
	}
	if att.ContentType != "" {
		return att.ContentType
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// ThumbnailType matches the encoding chosen when the thumbnail was made.
func ThumbnailType(att *models.Attachment) string {
	if strings.EqualFold(filepath.Ext(att.StorageKey), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}
