// Package subscriber implements the subscriber lifecycle: double opt-in
// subscription, verification, unsubscription, preference changes, GDPR
// export/delete/anonymize requests and the admin listing.
//
// The Service depends only on the Repository interface; the verification
// email goes through a VerificationSender so tests can run without a mail
// transport.
package subscriber
