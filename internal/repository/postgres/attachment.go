package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/service/campaign"
)

const attachmentColumns = `id, campaign_id, filename, content_type, size, storage_key, created_at`

func (r *CampaignRepo) AddAttachment(ctx context.Context, a *domain.Attachment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO newsletter_campaign_attachments (`+attachmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.CampaignID, a.Filename, a.ContentType, a.Size, a.StorageKey, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("add attachment: %w", err)
	}
	return nil
}

func (r *CampaignRepo) ListAttachments(ctx context.Context, campaignID string) ([]domain.Attachment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+attachmentColumns+` FROM newsletter_campaign_attachments
		WHERE campaign_id = $1 ORDER BY created_at, filename
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	out := []domain.Attachment{}
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.CampaignID, &a.Filename, &a.ContentType, &a.Size, &a.StorageKey, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) GetAttachment(ctx context.Context, campaignID, id string) (*domain.Attachment, error) {
	var a domain.Attachment
	err := r.db.QueryRowContext(ctx, `
		SELECT `+attachmentColumns+` FROM newsletter_campaign_attachments
		WHERE campaign_id = $1 AND id = $2
	`, campaignID, id).Scan(&a.ID, &a.CampaignID, &a.Filename, &a.ContentType, &a.Size, &a.StorageKey, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return &a, nil
}

func (r *CampaignRepo) DeleteAttachment(ctx context.Context, campaignID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM newsletter_campaign_attachments WHERE campaign_id = $1 AND id = $2`, campaignID, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrAttachmentNotFound
	}
	return nil
}
