package domain

import "io"

// EmailMessage is the fully-resolved message ready for a mail transport.
// By the time a message reaches this struct, template rendering and
// tracking injection are complete.
type EmailMessage struct {
	CampaignID   string              `json:"campaign_id,omitempty"`
	SubscriberID string              `json:"subscriber_id,omitempty"`
	To           string              `json:"to"`
	FromName     string              `json:"from_name"`
	FromEmail    string              `json:"from_email"`
	ReplyTo      string              `json:"reply_to,omitempty"`
	Subject      string              `json:"subject"`
	HTMLContent  string              `json:"html_content"`
	TextContent  string              `json:"text_content,omitempty"`
	Headers      map[string]string   `json:"headers,omitempty"`
	Attachments  []MessageAttachment `json:"-"`
}

// MessageAttachment is a file streamed into an outgoing message.
type MessageAttachment struct {
	Filename    string
	ContentType string
	Open        func() (io.ReadCloser, error)
}
