package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/alltekse/voucher-service/internal/domain"
	"github.com/alltekse/voucher-service/pkg/mailer"
	"github.com/alltekse/voucher-service/pkg/smsclient"
)

// DeliveryWorker consumes voucher delivery events and performs the actual
// SMS and email sends. Delivery is fire-and-forget with respect to the
// transaction ledger: a send failure is logged and the message acknowledged,
// it never reopens or fails the completed transaction. The retrieval endpoint
// is the fallback for a buyer whose delivery was lost.
type DeliveryWorker struct {
	mail           *mailer.Mailer
	sms            *smsclient.Client
	resultCheckURL string
}

// NewDeliveryWorker creates a delivery worker. Either sender may be nil when
// that channel is not configured; events for it are then dropped with a log line.
func NewDeliveryWorker(mail *mailer.Mailer, sms *smsclient.Client, resultCheckURL string) *DeliveryWorker {
	return &DeliveryWorker{
		mail:           mail,
		sms:            sms,
		resultCheckURL: resultCheckURL,
	}
}

// HandleSMSEvent processes one voucher.delivery.sms message.
func (w *DeliveryWorker) HandleSMSEvent(body []byte) bool {
	var event domain.VoucherDeliveryEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=delivery_worker channel=sms msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}
	if event.Phone == "" {
		log.Printf("level=warn component=delivery_worker channel=sms reference=%s msg=\"event has no phone; dropping\"", event.Reference)
		return true
	}
	if w.sms == nil {
		log.Printf("level=warn component=delivery_worker channel=sms reference=%s msg=\"sms sender not configured; dropping\"", event.Reference)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	message := fmt.Sprintf(
		"Your %s results checker voucher. Serial: %s PIN: %s. Check results at %s",
		event.ExamType, event.Serial, event.PIN, w.resultCheckURL,
	)
	if err := w.sms.Send(ctx, event.Phone, message); err != nil {
		log.Printf("level=error component=delivery_worker channel=sms reference=%s msg=\"send failed\" err=%v", event.Reference, err)
		return true
	}

	log.Printf("level=info component=delivery_worker channel=sms reference=%s msg=\"voucher delivered\"", event.Reference)
	return true
}

// HandleEmailEvent processes one voucher.delivery.email message.
func (w *DeliveryWorker) HandleEmailEvent(body []byte) bool {
	var event domain.VoucherDeliveryEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=delivery_worker channel=email msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}
	if event.Email == "" {
		log.Printf("level=warn component=delivery_worker channel=email reference=%s msg=\"event has no email; dropping\"", event.Reference)
		return true
	}
	if w.mail == nil {
		log.Printf("level=warn component=delivery_worker channel=email reference=%s msg=\"mailer not configured; dropping\"", event.Reference)
		return true
	}

	err := w.mail.SendVoucher(mailer.VoucherEmail{
		To:             event.Email,
		ExamType:       event.ExamType,
		Serial:         event.Serial,
		PIN:            event.PIN,
		Reference:      event.Reference,
		ResultCheckURL: w.resultCheckURL,
	})
	if err != nil {
		log.Printf("level=error component=delivery_worker channel=email reference=%s msg=\"send failed\" err=%v", event.Reference, err)
		return true
	}

	log.Printf("level=info component=delivery_worker channel=email reference=%s msg=\"voucher delivered\"", event.Reference)
	return true
}
