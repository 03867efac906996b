// Package render formats conversations, accounts and failures for the
// terminal and the companion UI.
package render

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ent0n29/lexclaim/internal/account"
	"github.com/ent0n29/lexclaim/internal/apiclient"
	"github.com/ent0n29/lexclaim/internal/auth"
	"github.com/ent0n29/lexclaim/internal/document"
	"github.com/ent0n29/lexclaim/internal/issue"
	"github.com/ent0n29/lexclaim/internal/reliability"
	"github.com/ent0n29/lexclaim/internal/session"
	"github.com/ent0n29/lexclaim/internal/transcript"
)

// ErrorMessage turns any failure into one line a user can act on.
func ErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, issue.ErrConversationEnded):
		return "This conversation has ended. Download the document or start a new issue."
	case errors.Is(err, issue.ErrTurnInFlight):
		return "Please wait for the assistant to reply."
	case errors.Is(err, issue.ErrConversationNotLoaded):
		return "Open the issue before replying."
	case errors.Is(err, issue.ErrSignInRequired):
		return "Please sign in to file an issue."
	case errors.Is(err, issue.ErrControllerClosed):
		return "The conversation view was closed."
	case errors.Is(err, document.ErrNotDownloadable):
		return "The document is available only after the conversation ends successfully."
	case errors.Is(err, auth.ErrProviderDenied):
		return "Sign-in was cancelled or refused."
	case errors.Is(err, auth.ErrNoUser), errors.Is(err, auth.ErrMalformedCallback):
		return "Sign-in did not complete. Please try again."
	case errors.Is(err, auth.ErrInvalidToken):
		return "The token was rejected."
	}
	return reliability.UserMessage(err)
}

func Turn(w io.Writer, t issue.Turn) {
	label := "assistant"
	if t.Speaker == issue.SpeakerUser {
		label = "you"
	}
	if t.Synthetic {
		label = "!"
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", t.SentAt.Local().Format("15:04"), label, t.Text)
}

func Conversation(w io.Writer, conv issue.Conversation) {
	fmt.Fprintf(w, "Issue %s (%s)\n", conv.IssueID, conv.State)
	for _, t := range conv.Turns {
		Turn(w, t)
	}
	Status(w, conv)
}

// Status prints the closing line of an ended conversation.
func Status(w io.Writer, conv issue.Conversation) {
	if !conv.Ended {
		return
	}
	switch conv.Outcome {
	case issue.OutcomeSuccess:
		fmt.Fprintf(w, "The conversation has ended. Your document is ready: lexclaim download %s\n", conv.IssueID)
	default:
		fmt.Fprintln(w, "The conversation has ended. No further action is needed.")
	}
}

func Session(w io.Writer, sess session.Session) {
	switch {
	case !sess.HasToken():
		fmt.Fprintln(w, "Not signed in.")
	case sess.Anonymous:
		fmt.Fprintln(w, "Guest session.")
	case sess.Identity != nil:
		name := sess.Identity.DisplayName
		if name == "" {
			name = sess.Identity.Email
		}
		fmt.Fprintf(w, "Signed in as %s.\n", name)
	default:
		fmt.Fprintln(w, "Signed in.")
	}
}

func Profile(w io.Writer, p apiclient.Profile) {
	fmt.Fprintf(w, "Name:   %s\n", account.DisplayName(p))
	fmt.Fprintf(w, "Email:  %s\n", p.Email)
	if p.Phone != "" {
		fmt.Fprintf(w, "Phone:  %s\n", p.Phone)
	}
	if !p.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Since:  %s\n", p.CreatedAt.Format("2006-01-02"))
	}
}

var statusLabels = map[string]string{
	account.StatusCompleted:  "completed",
	account.StatusDraft:      "draft",
	account.StatusProcessing: "in progress",
}

func Documents(w io.Writer, docs []apiclient.DocumentSummary, st account.Stats) {
	fmt.Fprintf(w, "%d documents: %d completed, %d drafts, %d in progress\n",
		st.Total, st.Completed, st.Drafts, st.InProgress)
	if len(docs) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ISSUE\tTITLE\tRECIPIENT\tSTATUS\tCREATED")
	for _, d := range docs {
		label, ok := statusLabels[d.Status]
		if !ok {
			label = statusLabels[account.StatusDraft]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.IssueID, d.Title, d.Recipient, label, date(d.CreatedAt))
	}
	_ = tw.Flush()
}

func Transcript(w io.Writer, issueID string, records []transcript.Record) {
	if len(records) == 0 {
		fmt.Fprintf(w, "No archived turns for issue %s.\n", issueID)
		return
	}
	for _, r := range records {
		Turn(w, issue.Turn{
			ID:        r.ID,
			Speaker:   issue.Speaker(r.Speaker),
			Text:      r.Text,
			SentAt:    r.SentAt,
			Synthetic: r.Synthetic,
		})
	}
}

func date(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02")
}

// Prompt is printed before reading a chat line.
func Prompt(conv issue.Conversation) string {
	if conv.Ended {
		return "> "
	}
	return "you> "
}
