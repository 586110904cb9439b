// Package campaign implements campaign lifecycle management.
//
// The service layer holds the business rules for creating, editing,
// scheduling, archiving and deleting newsletter campaigns, their file
// attachments, and drafts imported from RSS/Atom feeds. Sending lives in
// service/sending. It depends on the repository interfaces defined in this
// package and never imports net/http or database/sql.
//
// Repository implementations live in repository/postgres/.
package campaign
