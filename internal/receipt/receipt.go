// Package receipt composes contribution receipts and invoices and hands them to a
// dispatcher.
package receipt

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"net/mail"
	"strings"
	"text/template"
	"time"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

type Template string

const (
	TemplateInvoice      Template = "contribution_invoice"
	TemplateContribution Template = "contribution_receipt"
	TemplateMembership   Template = "membership_receipt"
	TemplateEvent        Template = "event_receipt"
)

// Input carries the sender and copy options of a confirmation.
type Input struct {
	FromEmail   string
	FromName    string
	CC          []string
	BCC         []string
	ReceiptText string
}

type Message struct {
	ContributionID int64
	Template       Template
	From           string
	To             string
	CC             []string
	BCC            []string
	Subject        string
	Body           string
	Date           time.Time
}

// Bytes renders the message as an RFC 822 document.
func (m Message) Bytes() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	if len(m.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(m.CC, ", "))
	}
	if len(m.BCC) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\r\n", strings.Join(m.BCC, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", m.Date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "X-Contribution-Id: %d\r\n", m.ContributionID)
	fmt.Fprintf(&b, "X-Template: %s\r\n", m.Template)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return b.Bytes()
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// SelectTemplate picks the invoice while money is still owed, otherwise the receipt of
// whatever the contribution paid for.
func SelectTemplate(c domain.Contribution, objects domain.RelatedObjects) Template {
	switch {
	case c.Status == domain.StatusPending, c.IsPayLater && c.Status != domain.StatusCompleted:
		return TemplateInvoice
	case len(objects.Memberships) > 0:
		return TemplateMembership
	case objects.Participant != nil:
		return TemplateEvent
	default:
		return TemplateContribution
	}
}

type Composer struct {
	templates map[Template]*template.Template
	Now       func() time.Time
}

func NewComposer() (*Composer, error) {
	funcs := template.FuncMap{
		"money": domain.FormatMoney,
		"date":  domain.FormatDate,
	}
	c := &Composer{
		templates: map[Template]*template.Template{},
		Now:       func() time.Time { return time.Now().UTC() },
	}
	for _, name := range []Template{TemplateInvoice, TemplateContribution, TemplateMembership, TemplateEvent} {
		tmpl, err := template.New(string(name)+".tmpl").Funcs(funcs).ParseFS(templateFS, "templates/"+string(name)+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		c.templates[name] = tmpl
	}
	return c, nil
}

type templateData struct {
	Title        string
	Status       string
	Contact      domain.Contact
	Contribution domain.Contribution
	Memberships  []domain.Membership
	Participant  *domain.Participant
	ReceiptText  string
}

func (c *Composer) Compose(contribution domain.Contribution, objects domain.RelatedObjects, in Input) (Message, error) {
	from, err := mail.ParseAddress(strings.TrimSpace(in.FromEmail))
	if err != nil {
		return Message{}, apierr.Newf(apierr.Validation, "receipt_from_email is not a valid address: %q", in.FromEmail)
	}
	if in.FromName != "" {
		from.Name = in.FromName
	} else if objects.Page != nil && objects.Page.ReceiptFromName != "" {
		from.Name = objects.Page.ReceiptFromName
	}
	if strings.TrimSpace(objects.Contact.Email) == "" {
		return Message{}, apierr.Newf(apierr.Validation, "Contact %d has no email address", objects.Contact.ID)
	}
	to := mail.Address{Name: objects.Contact.DisplayName, Address: objects.Contact.Email}
	cc, err := parseCopies("cc_receipt", in.CC)
	if err != nil {
		return Message{}, err
	}
	bcc, err := parseCopies("bcc_receipt", in.BCC)
	if err != nil {
		return Message{}, err
	}

	data := templateData{
		Title:        "Contribution",
		Status:       strings.ToLower(contribution.Status.Label()),
		Contact:      objects.Contact,
		Contribution: contribution,
		Memberships:  objects.Memberships,
		Participant:  objects.Participant,
		ReceiptText:  in.ReceiptText,
	}
	if objects.Page != nil {
		data.Title = objects.Page.Title
		if data.ReceiptText == "" {
			data.ReceiptText = objects.Page.ReceiptText
		}
	}

	name := SelectTemplate(contribution, objects)
	tmpl := c.templates[name]
	var subject, body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, "subject", data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := tmpl.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", name, err)
	}
	return Message{
		ContributionID: contribution.ID,
		Template:       name,
		From:           from.String(),
		To:             to.String(),
		CC:             cc,
		BCC:            bcc,
		Subject:        headerValue(subject.String()),
		Body:           body.String(),
		Date:           c.Now(),
	}, nil
}

// parseCopies re-renders each copy address so nothing but a parsed address reaches a header.
func parseCopies(field string, raw []string) ([]string, error) {
	var out []string
	for _, entry := range raw {
		addr, err := mail.ParseAddress(strings.TrimSpace(entry))
		if err != nil {
			return nil, apierr.Newf(apierr.Validation, "%s is not a valid address: %q", field, entry)
		}
		out = append(out, addr.String())
	}
	return out, nil
}

// headerValue folds line breaks out of a rendered header.
func headerValue(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
