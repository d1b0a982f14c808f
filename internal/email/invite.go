package email

import (
	"bytes"
	"context"
	htmltemplate "html/template"
	"net/url"
	texttemplate "text/template"
)

// Invite describes one household invitation.
type Invite struct {
	To            string
	InviterName   string
	HouseholdName string
	InviteCode    string
}

type inviteView struct {
	Invite
	Link string
}

var (
	inviteText = texttemplate.Must(texttemplate.New("invite.txt").Parse(
		`{{.InviterName}} invited you to share the {{.HouseholdName}} pantry.

Your invite code is {{.InviteCode}}.

Open PantrySync and enter the code, or follow this link:
{{.Link}}
`))

	inviteHTML = htmltemplate.Must(htmltemplate.New("invite.html").Parse(
		`<p>{{.InviterName}} invited you to share the <strong>{{.HouseholdName}}</strong> pantry.</p>` +
			`<p>Your invite code is <strong>{{.InviteCode}}</strong>.</p>` +
			`<p><a href="{{.Link}}">Join the household</a></p>`))
)

// SendInvite emails an invite code. The recipient joins by entering the code
// in the app.
func (c *Client) SendInvite(ctx context.Context, inv Invite) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	view := inviteView{
		Invite: inv,
		Link:   c.baseURL + "/join?code=" + url.QueryEscape(inv.InviteCode),
	}
	var text, html bytes.Buffer
	if err := inviteText.Execute(&text, view); err != nil {
		return err
	}
	if err := inviteHTML.Execute(&html, view); err != nil {
		return err
	}

	return c.send(ctx, postmarkEmail{
		To:       inv.To,
		Subject:  inv.InviterName + " invited you to " + inv.HouseholdName + " on PantrySync",
		TextBody: text.String(),
		HtmlBody: html.String(),
		Tag:      "household-invite",
	})
}
