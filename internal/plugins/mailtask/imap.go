package mailtask

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// IMAPFetcher reads recent inbox messages over IMAPS. Each Recent call is a
// fresh connection so a flaky network never wedges the plugin.
type IMAPFetcher struct {
	addr     string
	email    string
	password string
}

// NewIMAPFetcher builds a fetcher for server:port with the given account.
func NewIMAPFetcher(server string, port int, email, password string) *IMAPFetcher {
	if port <= 0 {
		port = 993
	}
	return &IMAPFetcher{
		addr:     fmt.Sprintf("%s:%d", server, port),
		email:    email,
		password: password,
	}
}

// Recent returns up to limit messages received since the given time, oldest
// first.
func (f *IMAPFetcher) Recent(ctx context.Context, since time.Time, limit int) ([]Email, error) {
	c, err := client.DialTLS(f.addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", f.addr, err)
	}
	defer c.Logout()

	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}
	if err := c.Login(f.email, f.password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("select inbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, len(ids))
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- c.Fetch(seqset, items, messages) }()

	var out []Email
	for msg := range messages {
		e := Email{Subject: "No Subject", From: "Unknown Sender"}
		if env := msg.Envelope; env != nil {
			if env.Subject != "" {
				e.Subject = env.Subject
			}
			if len(env.From) > 0 {
				e.From = formatAddress(env.From[0])
			}
			if !env.Date.IsZero() {
				e.Date = env.Date.Format(time.RFC1123Z)
			}
		}
		if r := msg.GetBody(section); r != nil {
			e.Body = cleanBody(plainText(r))
			if len(e.Body) > 2000 {
				e.Body = e.Body[:2000]
			}
		}
		out = append(out, e)
	}
	if err := <-fetchDone; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	return out, nil
}

func formatAddress(a *imap.Address) string {
	addr := a.Address()
	if a.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", a.PersonalName, addr)
	}
	return addr
}

// plainText extracts the first text/plain part of a raw message.
func plainText(r io.Reader) string {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return ""
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return ""
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := h.ContentType()
		if err != nil || ct != "text/plain" {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return ""
		}
		return string(body)
	}
}

// bodyCleaners strip URLs, markup, signatures, and footer noise.
var bodyCleaners = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://[^\s<>"']+`),
	regexp.MustCompile(`(?i)[^\s]*\.(com|net|org|edu|gov|io|co)/[^\s<>"']*`),
	regexp.MustCompile(`<[^>]*>`),
	regexp.MustCompile(`\[cid:[^\]]*\]`),
	regexp.MustCompile(`(?i)sent from my \w+[^\n]*\n?`),
	regexp.MustCompile(`(?i)unsubscribe[^\n]*\n?`),
	regexp.MustCompile(`(?i)this email was sent[^\n]*\n?`),
	regexp.MustCompile(`(?i)view[^\n]*in[^\n]*browser[^\n]*\n?`),
	regexp.MustCompile(`(?i)utm_[a-z]+=[^\s&]*`),
}

var (
	signatureRe  = regexp.MustCompile(`(?s)--+\s*\n.*`)
	blankLinesRe = regexp.MustCompile(`\n\s*\n\s*\n`)
	spacesRe     = regexp.MustCompile(`[ \t]+`)
)

// cleanBody strips links, markup, and footer noise so the analysis prompt
// sees actual message content.
func cleanBody(body string) string {
	for _, re := range bodyCleaners {
		body = re.ReplaceAllString(body, "")
	}
	body = signatureRe.ReplaceAllString(body, "")
	body = blankLinesRe.ReplaceAllString(body, "\n\n")
	body = spacesRe.ReplaceAllString(body, " ")
	return strings.TrimSpace(body)
}
