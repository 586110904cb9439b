package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abc-bedarieux/newsletter/internal/auth"
	"github.com/abc-bedarieux/newsletter/internal/pkg/httputil"
	"github.com/abc-bedarieux/newsletter/internal/service/campaign"
	"github.com/abc-bedarieux/newsletter/internal/service/subscriber"
)

// adminHandlers serve the dashboard API. Every route runs behind
// auth.Manager.RequireAdmin.
type adminHandlers struct {
	campaigns   CampaignService
	subscribers SubscriberService
	sender      Sender
	stats       StatsService
}

// multipart overhead allowed on top of the attachment itself
const uploadSlack = 1 << 20

func createdBy(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok {
		if p.Email != "" {
			return p.Email
		}
		return p.UserID
	}
	return ""
}

// POST /campaigns
func (h *adminHandlers) createCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.DecodeValid(w, r, &in) {
		return
	}
	in.CreatedBy = createdBy(r)
	c, err := h.campaigns.Create(r.Context(), in)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.Created(w, c)
}

// GET /campaigns?status=&type=&q=&page=&limit=
func (h *adminHandlers) listCampaigns(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 20, 100)
	q := r.URL.Query()
	list, total, err := h.campaigns.List(r.Context(), campaign.ListFilter{
		Status: q.Get("status"),
		Type:   q.Get("type"),
		Search: q.Get("q"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, NewPaginatedResponse(list, p, total))
}

func (h *adminHandlers) getCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *adminHandlers) updateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.UpdateInput
	if !httputil.DecodeValid(w, r, &in) {
		return
	}
	c, err := h.campaigns.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *adminHandlers) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (h *adminHandlers) archiveCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.campaigns.Archive(r.Context(), id); err != nil {
		httputil.FromError(w, err)
		return
	}
	h.getCampaign(w, r)
}

type scheduleRequest struct {
	ScheduledAt *time.Time `json:"scheduledAt" validate:"required"`
}

func (h *adminHandlers) scheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !httputil.DecodeValid(w, r, &req) {
		return
	}
	c, err := h.campaigns.Schedule(r.Context(), chi.URLParam(r, "id"), *req.ScheduledAt)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *adminHandlers) unscheduleCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Unschedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, c)
}

// POST /campaigns/{id}/send
// The batch runs inside the request. It is detached from the client
// connection so a closed browser tab does not strand the campaign in
// sending.
func (h *adminHandlers) sendCampaign(w http.ResponseWriter, r *http.Request) {
	sum, err := h.sender.Send(context.WithoutCancel(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, sum)
}

func (h *adminHandlers) retryFailed(w http.ResponseWriter, r *http.Request) {
	sum, err := h.sender.RetryFailed(context.WithoutCancel(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, sum)
}

func (h *adminHandlers) resend(w http.ResponseWriter, r *http.Request) {
	sum, err := h.sender.Resend(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "subscriberId"))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, sum)
}

func (h *adminHandlers) campaignStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.CampaignStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, st)
}

// POST /campaigns/{id}/attachments (multipart, field "file")
func (h *adminHandlers) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, campaign.MaxAttachmentSize+uploadSlack)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Invalid(w, httputil.NewValidationError("file", "exceeds the 10 MB limit"))
			return
		}
		httputil.Invalid(w, httputil.NewValidationError("file", "a multipart file field is required"))
		return
	}
	defer file.Close()

	a, err := h.campaigns.AddAttachment(r.Context(), chi.URLParam(r, "id"),
		header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.Created(w, a)
}

func (h *adminHandlers) listAttachments(w http.ResponseWriter, r *http.Request) {
	list, err := h.campaigns.ListAttachments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"data": list})
}

func (h *adminHandlers) deleteAttachment(w http.ResponseWriter, r *http.Request) {
	err := h.campaigns.RemoveAttachment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "attachmentId"))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.NoContent(w)
}

// POST /campaigns/import-feed
func (h *adminHandlers) importFeed(w http.ResponseWriter, r *http.Request) {
	var in campaign.FeedImportInput
	if !httputil.DecodeValid(w, r, &in) {
		return
	}
	in.CreatedBy = createdBy(r)
	c, err := h.campaigns.ImportFeed(r.Context(), in)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.Created(w, c)
}

// GET /subscribers?active=&verified=&q=&page=&limit=
func (h *adminHandlers) listSubscribers(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 50, 200)
	list, total, err := h.subscribers.List(r.Context(), subscriber.ListFilter{
		Active:   parseBool(r, "active"),
		Verified: parseBool(r, "verified"),
		Search:   r.URL.Query().Get("q"),
		Limit:    p.Limit,
		Offset:   p.Offset,
	})
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, NewPaginatedResponse(list, p, total))
}

func (h *adminHandlers) createSubscriber(w http.ResponseWriter, r *http.Request) {
	var in subscriber.CreateInput
	if !httputil.DecodeValid(w, r, &in) {
		return
	}
	res, err := h.subscribers.Create(r.Context(), in)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.Created(w, res)
}
