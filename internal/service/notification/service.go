// Package notification dispatches call invitations to users who are not
// presently connected. Connected users receive the invitation over their
// live connection instead; this dispatcher is the offline path.
package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callwave-backend/internal/domain"
	"callwave-backend/pkg/email"
	"callwave-backend/pkg/logger"
	"callwave-backend/pkg/push"
)

// SessionSummary is the minimal session description carried in an invitation
type SessionSummary struct {
	SessionID   uuid.UUID       `json:"session_id"`
	ChannelName string          `json:"channel_name"`
	Kind        domain.CallKind `json:"kind"`
	Mode        domain.CallMode `json:"mode"`
	Title       string          `json:"title,omitempty"`
	HostID      uuid.UUID       `json:"host_id"`
}

// AddressBook resolves a user's contact details. Returning an empty address
// means the user has no email on file.
type AddressBook interface {
	EmailFor(ctx context.Context, userID uuid.UUID) (string, error)
	DisplayNameFor(ctx context.Context, userID uuid.UUID) (string, error)
}

// Dispatcher delivers invitations via push and email
type Dispatcher struct {
	pushProvider push.Provider
	mailer       email.Sender
	addressBook  AddressBook
	appURL       string
}

// NewDispatcher creates a notification dispatcher
func NewDispatcher(pushProvider push.Provider, mailer email.Sender, addressBook AddressBook, appURL string) *Dispatcher {
	return &Dispatcher{
		pushProvider: pushProvider,
		mailer:       mailer,
		addressBook:  addressBook,
		appURL:       appURL,
	}
}

// NotifyInvitation delivers a call invitation to a user without a live
// connection. Push and email are both best-effort; a failure of one channel
// does not block the other.
func (d *Dispatcher) NotifyInvitation(ctx context.Context, targetUserID, inviterID uuid.UUID, summary *SessionSummary) error {
	inviterName := inviterID.String()
	if d.addressBook != nil {
		if name, err := d.addressBook.DisplayNameFor(ctx, inviterID); err == nil && name != "" {
			inviterName = name
		}
	}

	var firstErr error

	if d.pushProvider != nil {
		notification := &push.Notification{
			Title: "Incoming call",
			Body:  fmt.Sprintf("%s is inviting you to a %s call", inviterName, summary.Kind),
			Data: map[string]string{
				"session_id": summary.SessionID.String(),
				"channel":    summary.ChannelName,
				"inviter_id": inviterID.String(),
			},
		}
		if err := d.pushProvider.Send(ctx, targetUserID, notification); err != nil {
			logger.Warn("failed to push call invitation",
				zap.String("target_user_id", targetUserID.String()),
				zap.Error(err))
			firstErr = err
		}
	}

	if d.mailer != nil && d.addressBook != nil {
		address, err := d.addressBook.EmailFor(ctx, targetUserID)
		if err != nil {
			logger.Warn("failed to resolve invitation email address",
				zap.String("target_user_id", targetUserID.String()),
				zap.Error(err))
		} else if address != "" {
			msg := email.BuildInvitationEmail(address, &email.InvitationEmailData{
				InviterName: inviterName,
				CallTitle:   summary.Title,
				JoinURL:     fmt.Sprintf("%s/call/%s", d.appURL, summary.SessionID),
			})
			if err := d.mailer.Send(ctx, msg); err != nil {
				logger.Warn("failed to email call invitation",
					zap.String("target_user_id", targetUserID.String()),
					zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	return firstErr
}
