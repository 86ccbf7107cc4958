/*
Package mailmerge provides a command line mail merge tool that sends
personalized emails to every row of a CSV contact list.

Each contact row is merged into a subject template and an HTML body
template, turned into a multipart message (plain text, HTML and an
optional attachment) and delivered over a single authenticated SMTP
connection. Every processed contact is recorded in an outbox log, and the
contact file can optionally be updated with a status column so that a
later run picks up where the previous one stopped.

# Templates

Templates use {{field}} placeholders. Any column of the contact file can
be referenced, together with two computed fields:
  - sender_name, the configured sender display name
  - today, the current date (02/01/2006 by default)

Placeholders with no value render as the configured default or as an
empty string.

# Usage

Basic usage:

	mailmerge --csv contacts.csv --subject subject.txt --html body.html --dry-run
	mailmerge --csv contacts.csv --subject subject.txt --html body.html --attachment cv.pdf
	mailmerge --csv contacts.csv --subject subject.txt --html body.html --max 5 --update-contacts
	mailmerge check               # Validate files and settings without sending
	mailmerge preview 3           # Render the message for row 3
*/
package mailmerge

// Version is the current version of mailmerge
const Version = "1.0.0"

// BuildDate is set at build time
var BuildDate string

// GitCommit is set at build time
var GitCommit string
