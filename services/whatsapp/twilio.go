package whatsappsvc

import (
	"github.com/pkg/errors"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/notification"
)

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

type twilioSender struct {
	api  messageCreator
	from string
}

var _ notification.WhatsAppSender = (*twilioSender)(nil)

func NewTwilioSender(conf *core.Config) notification.WhatsAppSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: conf.Twilio.AccountSID,
		Password: conf.Twilio.AuthToken,
	})
	return &twilioSender{
		api:  client.Api,
		from: notification.WhatsAppAddress(conf.Twilio.WhatsAppNumber),
	}
}

func (s *twilioSender) SendWhatsApp(to, body string) (notification.WhatsAppReceipt, error) {
	params := &openapi.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(notification.WhatsAppAddress(to))
	params.SetBody(body)

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		return notification.WhatsAppReceipt{}, errors.Wrap(err, "creating twilio message")
	}

	var receipt notification.WhatsAppReceipt
	if msg.Sid != nil {
		receipt.SID = *msg.Sid
	}
	if msg.Status != nil {
		receipt.Status = *msg.Status
	}
	return receipt, nil
}
