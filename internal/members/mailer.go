package members

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/haven-crm/haven/jobs"
)

// JobMailer queues invitation emails on the background worker.
type JobMailer struct {
	client  *jobs.Client
	baseURL string
}

// NewJobMailer constructs a JobMailer. baseURL prefixes the acceptance link.
func NewJobMailer(client *jobs.Client, baseURL string) *JobMailer {
	return &JobMailer{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// SendInvitation implements Mailer.
func (m *JobMailer) SendInvitation(ctx context.Context, inv Invitation, organizationID string) error {
	link := m.baseURL + "/invitations/accept?token=" + url.QueryEscape(inv.Token)
	_, err := m.client.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      inv.Email,
		Subject: "You have been invited to join Haven",
		Body: fmt.Sprintf("You were invited as %s. Accept before %s: %s",
			inv.Role, inv.ExpiresAt.Format("2 Jan 2006 15:04 MST"), link),
	})
	if err != nil {
		return fmt.Errorf("members: enqueue invitation email for organization %s: %w", organizationID, err)
	}
	return nil
}
