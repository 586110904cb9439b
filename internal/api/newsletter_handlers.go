package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/mailing"
	"github.com/abc-bedarieux/newsletter/internal/pkg/httputil"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
	"github.com/abc-bedarieux/newsletter/internal/service/subscriber"
)

// publicHandlers serve the subscription endpoints used by the site and by
// links in emails.
type publicHandlers struct {
	subscribers SubscriberService
	renderer    *mailing.Renderer
}

type subscribeResponse struct {
	Message string `json:"message"`
	*subscriber.SubscribeResult
}

type alreadySubscribedResponse struct {
	Error               string `json:"error"`
	Code                string `json:"code"`
	IsAlreadySubscribed bool   `json:"isAlreadySubscribed"`
}

// POST /newsletter/subscribe
func (h *publicHandlers) subscribe(w http.ResponseWriter, r *http.Request) {
	var in subscriber.SubscribeInput
	if !httputil.DecodeValid(w, r, &in) {
		return
	}
	res, err := h.subscribers.Subscribe(r.Context(), in)
	if errors.Is(err, subscriber.ErrAlreadySubscribed) {
		httputil.JSON(w, http.StatusBadRequest, alreadySubscribedResponse{
			Error:               "Cette adresse est déjà inscrite à la newsletter",
			Code:                "already_subscribed",
			IsAlreadySubscribed: true,
		})
		return
	}
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	msg := "Inscription enregistrée, un email de confirmation vous a été envoyé"
	if !res.VerificationEmailSent {
		msg = "Inscription enregistrée, l'email de confirmation n'a pas pu être envoyé"
	}
	httputil.OK(w, subscribeResponse{Message: msg, SubscribeResult: res})
}

// GET /newsletter/subscribe?email=
func (h *publicHandlers) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.subscribers.Status(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, st)
}

// GET /newsletter/verify?token=
// The link is opened from the confirmation email, so the answer is a page
// unless the caller asks for JSON.
func (h *publicHandlers) verify(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscribers.Verify(r.Context(), r.URL.Query().Get("token"))
	if wantsJSON(r) {
		if err != nil {
			httputil.FromError(w, err)
			return
		}
		httputil.OK(w, map[string]interface{}{"message": "Adresse confirmée", "email": sub.Email, "isVerified": sub.IsVerified})
		return
	}
	if err != nil {
		h.errorPage(w, err, "Lien de confirmation invalide",
			"Ce lien de confirmation est invalide ou a déjà été utilisé.")
		return
	}
	h.page(w, http.StatusOK, mailing.Notice{
		Heading:   "Inscription confirmée",
		Message:   "Merci ! Vous recevrez désormais la newsletter de l'ABC Bédarieux.",
		LinkURL:   h.renderer.Links().Base(),
		LinkLabel: "Retour au site",
	})
}

// GET /newsletter/unsubscribe?token=&c=
// Only renders a confirmation form; link scanners and mail clients that
// prefetch the link must not unsubscribe anyone.
func (h *publicHandlers) unsubscribePage(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscribers.ByUnsubscribeToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.errorPage(w, err, "Lien de désinscription invalide",
			"Nous n'avons trouvé aucune inscription correspondant à ce lien.")
		return
	}
	if !sub.IsActive {
		h.page(w, http.StatusOK, mailing.Notice{
			Heading:   "Déjà désinscrit·e",
			Message:   "Cette adresse ne reçoit plus la newsletter.",
			LinkURL:   h.renderer.Links().Base(),
			LinkLabel: "Retour au site",
		})
		return
	}
	h.page(w, http.StatusOK, mailing.Notice{
		Heading:    "Se désabonner ?",
		Message:    "Confirmez pour ne plus recevoir la newsletter de l'ABC Bédarieux.",
		FormAction: r.URL.RequestURI(),
		FormLabel:  "Confirmer la désinscription",
		LinkURL:    h.renderer.Links().Base(),
		LinkLabel:  "Retour au site",
	})
}

type unsubscribeRequest struct {
	Token      string `json:"token"`
	CampaignID string `json:"campaignId"`
}

// POST /newsletter/unsubscribe
// The token comes from the query string or the JSON body. Browsers
// submitting the confirmation form get an HTML page back; one-click
// List-Unsubscribe-Post requests and API clients get JSON.
func (h *publicHandlers) unsubscribe(w http.ResponseWriter, r *http.Request) {
	req := unsubscribeRequest{Token: r.URL.Query().Get("token"), CampaignID: r.URL.Query().Get("c")}
	if req.Token == "" && !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		httputil.Invalid(w, httputil.NewValidationError("token", "is required"))
		return
	}
	sub, err := h.subscribers.Unsubscribe(r.Context(), req.Token, req.CampaignID)
	if wantsHTML(r) {
		if err != nil {
			h.errorPage(w, err, "Lien de désinscription invalide",
				"Nous n'avons trouvé aucune inscription correspondant à ce lien.")
			return
		}
		h.page(w, http.StatusOK, mailing.Notice{
			Heading:   "Désinscription confirmée",
			Message:   "Vous ne recevrez plus la newsletter. Vous pouvez vous réinscrire à tout moment depuis le site.",
			LinkURL:   h.renderer.Links().Base(),
			LinkLabel: "Retour au site",
		})
		return
	}
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"message": "Désinscription confirmée", "email": sub.Email})
}

// PUT /newsletter/preferences?token=
func (h *publicHandlers) updatePreferences(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httputil.Invalid(w, httputil.NewValidationError("token", "is required"))
		return
	}
	var prefs domain.Preferences
	if !httputil.Decode(w, r, &prefs) {
		return
	}
	sub, err := h.subscribers.UpdatePreferences(r.Context(), token, prefs)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"message": "Préférences mises à jour", "preferences": sub.Preferences})
}

// POST /newsletter/gdpr
func (h *publicHandlers) gdpr(w http.ResponseWriter, r *http.Request) {
	var req subscriber.GDPRRequest
	if !httputil.DecodeValid(w, r, &req) {
		return
	}
	res, err := h.subscribers.HandleGDPR(r.Context(), req)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, res)
}

func (h *publicHandlers) errorPage(w http.ResponseWriter, err error, heading, message string) {
	status := http.StatusInternalServerError
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	default:
		heading = "Une erreur est survenue"
		message = "Merci de réessayer plus tard."
		logger.Error("newsletter page failed", "error", err)
	}
	h.page(w, status, mailing.Notice{
		Heading:   heading,
		Message:   message,
		LinkURL:   h.renderer.Links().Base(),
		LinkLabel: "Retour au site",
	})
}

func (h *publicHandlers) page(w http.ResponseWriter, status int, n mailing.Notice) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(h.renderer.Page(n)))
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
