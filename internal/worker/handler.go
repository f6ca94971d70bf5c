package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"

	"booking-engine/internal/events"
)

const (
	// SubjectNotificationsDLQ receives events whose pushes exhausted
	// every delivery attempt, so they can be replayed later.
	SubjectNotificationsDLQ = "notifications.dlq"

	maxPushAttempts = 3
)

// pusher is the slice of apns2.Client the worker needs, split out so
// tests can fail deliveries on demand.
type pusher interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

type Worker struct {
	repo    TokenRepository
	apns    pusher
	topic   string
	backoff time.Duration
	publish func(subject string, data []byte) error
}

func (w *Worker) handleReservationBooked(msg *nats.Msg) {
	var event events.ReservationBookedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Printf("Error unmarshalling event: %v", err)
		return
	}

	log.Printf(
		"📬 Event Received: Member %s booked a slot in session %s.",
		event.MemberID,
		event.SessionID,
	)

	w.notifyMember(event.MemberID, "Your class is booked!", msg.Data)
}

func (w *Worker) handleReservationCancelled(msg *nats.Msg) {
	var event events.ReservationCancelledEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Printf("Error unmarshalling event: %v", err)
		return
	}

	log.Printf(
		"📬 Event Received: Member %s cancelled reservation %s.",
		event.MemberID,
		event.ReservationID,
	)

	w.notifyMember(event.MemberID, "Your reservation was cancelled.", msg.Data)
}

func (w *Worker) notifyMember(memberID uuid.UUID, alert string, raw []byte) {
	tokens, err := w.repo.DeviceTokensFor(context.Background(), memberID)
	if err != nil {
		log.Printf("Failed to retrieve device tokens for member %s: %v", memberID, err)
		return
	}

	if len(tokens) == 0 {
		log.Printf("No device tokens found for member %s. No notifications sent.", memberID)
		return
	}

	log.Printf("Found %d device token(s) for member %s. Sending notifications...", len(tokens), memberID)
	payload := fmt.Sprintf(`{"aps":{"alert":%q,"sound":"default"}}`, alert)

	for _, deviceToken := range tokens {
		if w.apns == nil {
			log.Printf("✅ SUCCESS (mock): Push notification sent to device %s", deviceToken)
			continue
		}

		if err := w.pushWithRetry(deviceToken, payload); err != nil {
			log.Printf("❌ FAILED to send notification to device %s: %v", deviceToken, err)
			w.deadLetter(raw)
		}
	}
}

func (w *Worker) pushWithRetry(deviceToken, payload string) error {
	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       w.topic,
		Payload:     []byte(payload),
	}

	var lastErr error
	for attempt := 1; attempt <= maxPushAttempts; attempt++ {
		res, err := w.apns.Push(notification)
		if err != nil {
			lastErr = err
			time.Sleep(w.backoff * time.Duration(attempt))
			continue
		}

		if res.Sent() {
			log.Printf("✅ SUCCESS: Notification sent with APNS ID: %s", res.ApnsID)
			return nil
		}

		// APNs rejected the notification outright; retrying will not help.
		return fmt.Errorf("push rejected: %s", res.Reason)
	}

	return lastErr
}

func (w *Worker) deadLetter(raw []byte) {
	if err := w.publish(SubjectNotificationsDLQ, raw); err != nil {
		log.Printf("Error publishing to dead letter subject: %v", err)
	}
}

func newAPNSClientFromEnv() (*apns2.Client, error) {
	authKeyPath := os.Getenv("APNS_AUTH_KEY_PATH")
	keyID := os.Getenv("APNS_KEY_ID")
	teamID := os.Getenv("APNS_TEAM_ID")

	if authKeyPath == "" || authKeyPath[0] == '#' || keyID == "" || teamID == "" {
		log.Println("APNs credentials not found or invalid. Worker will run in MOCK mode.")
		return nil, nil
	}

	log.Println("APNs credentials found, initializing APNs client...")
	authKey, err := token.AuthKeyFromFile(authKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs auth key: %w", err)
	}

	authToken := &token.Token{
		AuthKey: authKey,
		KeyID:   keyID,
		TeamID:  teamID,
	}

	if os.Getenv("APNS_MODE") == "production" {
		return apns2.NewTokenClient(authToken).Production(), nil
	}
	return apns2.NewTokenClient(authToken).Development(), nil
}

func Start(natsURL string, db *sqlx.DB) error {
	apnsClient, err := newAPNSClientFromEnv()
	if err != nil {
		return err
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return err
	}

	worker := &Worker{
		repo:    NewPostgresTokenRepository(db),
		topic:   os.Getenv("APNS_TOPIC"),
		backoff: time.Second,
		publish: nc.Publish,
	}
	if apnsClient != nil {
		worker.apns = apnsClient
	}

	if _, err := nc.Subscribe(events.SubjectReservationBooked, worker.handleReservationBooked); err != nil {
		return err
	}

	if _, err := nc.Subscribe(events.SubjectReservationCancelled, worker.handleReservationCancelled); err != nil {
		return err
	}

	return nil
}
