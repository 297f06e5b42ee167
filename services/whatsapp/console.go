package whatsappsvc

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/notification"
)

// SentMessage is a message recorded by the console senders.
type SentMessage struct {
	To   string
	Body string
}

var (
	sent []SentMessage
	mu   sync.Mutex
)

func GetSentMessages() []SentMessage {
	mu.Lock()
	defer mu.Unlock()
	return append([]SentMessage(nil), sent...)
}

func ResetSentMessages() {
	mu.Lock()
	sent = nil
	mu.Unlock()
}

type consoleSender struct {
	logger        core.Logger
	disableOutput bool
}

var _ notification.WhatsAppSender = (*consoleSender)(nil)

// NewConsoleSender logs messages instead of sending them. Used when Twilio is not configured.
func NewConsoleSender(logger core.Logger) notification.WhatsAppSender {
	return &consoleSender{logger: logger}
}

// NewConsoleSenderMock records messages silently, for tests.
func NewConsoleSenderMock() notification.WhatsAppSender {
	return &consoleSender{disableOutput: true}
}

func (s *consoleSender) SendWhatsApp(to, body string) (notification.WhatsAppReceipt, error) {
	mu.Lock()
	sent = append(sent, SentMessage{To: to, Body: body})
	mu.Unlock()

	if !s.disableOutput {
		s.logger.Info(fmt.Sprintf("WhatsApp to %s:\n%s", to, body))
	}
	return notification.WhatsAppReceipt{SID: "SM" + uuid.New().String(), Status: "queued"}, nil
}
