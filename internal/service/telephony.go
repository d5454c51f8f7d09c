package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Call statuses reported by the telephony provider.
const (
	CallStatusQueued     = "queued"
	CallStatusRinging    = "ringing"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
	CallStatusFailed     = "failed"
)

// Telephony places outbound calls and reports their progress.
// Implementations must be safe for concurrent use.
type Telephony interface {
	PlaceCall(ctx context.Context, to, from, twiml string) (string, error)
	CallStatus(ctx context.Context, sid string) (string, error)
}

type TwilioTelephony struct {
	client *twilio.RestClient
}

func NewTwilioTelephony(accountSID, authToken string) *TwilioTelephony {
	return &TwilioTelephony{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
	}
}

func (t *TwilioTelephony) PlaceCall(ctx context.Context, to, from, twiml string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetTwiml(twiml)

	call, err := t.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}
	if call.Sid == nil {
		return "", errors.New("create call: response without sid")
	}
	return *call.Sid, nil
}

func (t *TwilioTelephony) CallStatus(ctx context.Context, sid string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	call, err := t.client.Api.FetchCall(sid, &twilioApi.FetchCallParams{})
	if err != nil {
		return "", fmt.Errorf("fetch call %s: %w", sid, err)
	}
	if call.Status == nil {
		return "", fmt.Errorf("fetch call %s: response without status", sid)
	}
	return *call.Status, nil
}
