package campaign

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

// MaxAttachmentSize bounds a single uploaded file.
const MaxAttachmentSize = 10 << 20

var (
	errNoAttachments = fmt.Errorf("attachments are not configured: %w", domain.ErrInvalid)
	unsafeFilename   = regexp.MustCompile(`[^\pL\pN._-]+`)
)

// AddAttachment stores the blob and records it on a draft or scheduled
// campaign. Files larger than MaxAttachmentSize are rejected.
func (s *Service) AddAttachment(ctx context.Context, campaignID, filename, contentType string, r io.Reader) (*domain.Attachment, error) {
	if s.attachments == nil {
		return nil, errNoAttachments
	}
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !c.IsEditable() {
		return nil, ErrImmutable
	}
	name := sanitizeFilename(filename)
	if name == "" {
		return nil, domain.NewValidationError("file", "filename is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	a := &domain.Attachment{
		ID:          uuid.NewString(),
		CampaignID:  campaignID,
		Filename:    name,
		ContentType: contentType,
		CreatedAt:   s.now(),
	}
	a.StorageKey = fmt.Sprintf("campaigns/%s/%s-%s", campaignID, a.ID, name)

	// One extra byte tells an oversized file from one of exactly the limit.
	n, err := s.blobs.Put(ctx, a.StorageKey, contentType, io.LimitReader(r, MaxAttachmentSize+1))
	if err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	if n > MaxAttachmentSize {
		s.dropBlob(ctx, a.StorageKey)
		return nil, domain.NewValidationError("file", "must be at most 10 MB")
	}
	a.Size = n

	if err := s.attachments.AddAttachment(ctx, a); err != nil {
		s.dropBlob(ctx, a.StorageKey)
		return nil, fmt.Errorf("record attachment: %w", err)
	}
	logger.Info("attachment added", "campaign_id", campaignID, "attachment_id", a.ID, "size", n)
	return a, nil
}

// ListAttachments returns the campaign's attachments.
func (s *Service) ListAttachments(ctx context.Context, campaignID string) ([]domain.Attachment, error) {
	if s.attachments == nil {
		return nil, errNoAttachments
	}
	if _, err := s.repo.Get(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.attachments.ListAttachments(ctx, campaignID)
}

// RemoveAttachment deletes the row and then the blob.
func (s *Service) RemoveAttachment(ctx context.Context, campaignID, id string) error {
	if s.attachments == nil {
		return errNoAttachments
	}
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if !c.IsEditable() {
		return ErrImmutable
	}
	a, err := s.attachments.GetAttachment(ctx, campaignID, id)
	if err != nil {
		return err
	}
	if err := s.attachments.DeleteAttachment(ctx, campaignID, id); err != nil {
		return err
	}
	s.dropBlob(ctx, a.StorageKey)
	return nil
}

func (s *Service) dropBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		logger.Warn("attachment blob cleanup failed", "key", key, "error", err)
	}
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	name = unsafeFilename.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > 120 {
		ext := filepath.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:120-len(ext)] + ext
	}
	return name
}
