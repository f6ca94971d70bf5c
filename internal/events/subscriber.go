package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"booking-engine/internal/model"
	"booking-engine/internal/repository"
)

const (
	SubjectMemberRegistered = "member.registered"
	SubjectMemberUpdated    = "member.updated"

	memberSyncDLQ    = "member.sync.failed"
	maxUpsertRetries = 3
	upsertRetryDelay = 2 * time.Second
)

// MemberRegisteredEvent is published by the membership service whenever
// a member is created or changed.
type MemberRegisteredEvent struct {
	EventType string    `json:"event_type"`
	MemberID  uuid.UUID `json:"member_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
}

// MemberSubscriber mirrors membership events into the local members
// table so bookings can validate member ids without a synchronous call
// to the membership service.
type MemberSubscriber struct {
	members    repository.MemberRepository
	publish    func(subject string, data []byte) error
	retryDelay time.Duration
}

func NewMemberSubscriber(natsURL string, members repository.MemberRepository) (*MemberSubscriber, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	log.Println("✅ Member subscriber connected to NATS.")

	subscriber := &MemberSubscriber{
		members:    members,
		publish:    nc.Publish,
		retryDelay: upsertRetryDelay,
	}

	for _, subject := range []string{SubjectMemberRegistered, SubjectMemberUpdated} {
		if _, err := nc.Subscribe(subject, subscriber.handleMemberEvent); err != nil {
			log.Printf("Failed to subscribe to member event %s: %v", subject, err)
			return nil, err
		}
	}
	log.Println("👂 Member subscriber listening to member.registered and member.updated")

	return subscriber, nil
}

func (s *MemberSubscriber) handleMemberEvent(msg *nats.Msg) {
	var event MemberRegisteredEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Printf("❌ Failed to unmarshal member event: %v", err)
		return
	}

	log.Printf("📨 Member event received: %s (%s)", event.MemberID, event.EventType)

	member := &model.Member{
		ID:    event.MemberID,
		Email: event.Email,
		Name:  event.Name,
	}

	var saveErr error
	for attempt := 1; attempt <= maxUpsertRetries; attempt++ {
		saveErr = s.members.Upsert(context.Background(), member)
		if saveErr == nil {
			return
		}

		log.Printf("Failed syncing member %s (attempt %d): %v", event.MemberID, attempt, saveErr)
		time.Sleep(s.retryDelay)
	}

	log.Printf("FAILED COMPLETELY to sync member %s after %d attempts. Last error: %v", event.MemberID, maxUpsertRetries, saveErr)

	if err := s.publish(memberSyncDLQ, msg.Data); err != nil {
		log.Printf("Failed to publish to DLQ '%s': %v", memberSyncDLQ, err)
	} else {
		log.Printf("Published failed member event to DLQ '%s'", memberSyncDLQ)
	}
}
