package events

import (
	"booking-engine/internal/model"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	SubjectSessionCreated       = "session.created"
	SubjectSessionClosed        = "session.closed"
	SubjectSessionCompleted     = "session.completed"
	SubjectReservationBooked    = "reservation.booked"
	SubjectReservationCancelled = "reservation.cancelled"
)

type EventPublisher interface {
	PublishSessionCreated(session *model.Session) error
	PublishSessionClosed(sessionID uuid.UUID) error
	PublishSessionCompleted(sessionID uuid.UUID, reservations int) error
	PublishReservationBooked(reservation *model.Reservation) error
	PublishReservationCancelled(reservation *model.Reservation) error
}

type NatsPublisher struct {
	conn *nats.Conn
}

func NewNatsPublisher(natsURL string) (EventPublisher, error) {
	nc, err := nats.Connect(natsURL)

	if err != nil {
		return nil, err
	}

	return &NatsPublisher{conn: nc}, nil
}

type SessionCreatedEvent struct {
	EventType string    `json:"event_type"`
	SessionID uuid.UUID `json:"session_id"`
	CourseID  uuid.UUID `json:"course_id"`
	Title     string    `json:"title"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Capacity  int       `json:"capacity"`
}

type SessionClosedEvent struct {
	EventType string    `json:"event_type"`
	SessionID uuid.UUID `json:"session_id"`
	ClosedAt  time.Time `json:"closed_at"`
}

type SessionCompletedEvent struct {
	EventType    string    `json:"event_type"`
	SessionID    uuid.UUID `json:"session_id"`
	Reservations int       `json:"reservations"`
	CompletedAt  time.Time `json:"completed_at"`
}

type ReservationBookedEvent struct {
	EventType     string    `json:"event_type"`
	ReservationID uuid.UUID `json:"reservation_id"`
	SessionID     uuid.UUID `json:"session_id"`
	MemberID      uuid.UUID `json:"member_id"`
	BookedAt      time.Time `json:"booked_at"`
}

type ReservationCancelledEvent struct {
	EventType     string    `json:"event_type"`
	ReservationID uuid.UUID `json:"reservation_id"`
	SessionID     uuid.UUID `json:"session_id"`
	MemberID      uuid.UUID `json:"member_id"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

func (p *NatsPublisher) publish(subject string, event interface{}) error {
	eventJSON, err := json.Marshal(event)

	if err != nil {
		log.Printf("Error marshalling event JSON: %v", err)
		return err
	}

	if err := p.conn.Publish(subject, eventJSON); err != nil {
		log.Printf("Error publishing to NATS: %v", err)
		return err
	}

	log.Printf("Published event to NATS on subject '%s'", subject)

	return nil
}

func (p *NatsPublisher) PublishSessionCreated(session *model.Session) error {
	return p.publish(SubjectSessionCreated, SessionCreatedEvent{
		EventType: SubjectSessionCreated,
		SessionID: session.ID,
		CourseID:  session.CourseID,
		Title:     session.Title,
		StartAt:   session.StartAt,
		EndAt:     session.EndAt,
		Capacity:  session.Capacity,
	})
}

func (p *NatsPublisher) PublishSessionClosed(sessionID uuid.UUID) error {
	return p.publish(SubjectSessionClosed, SessionClosedEvent{
		EventType: SubjectSessionClosed,
		SessionID: sessionID,
		ClosedAt:  time.Now(),
	})
}

func (p *NatsPublisher) PublishSessionCompleted(sessionID uuid.UUID, reservations int) error {
	return p.publish(SubjectSessionCompleted, SessionCompletedEvent{
		EventType:    SubjectSessionCompleted,
		SessionID:    sessionID,
		Reservations: reservations,
		CompletedAt:  time.Now(),
	})
}

func (p *NatsPublisher) PublishReservationBooked(reservation *model.Reservation) error {
	return p.publish(SubjectReservationBooked, ReservationBookedEvent{
		EventType:     SubjectReservationBooked,
		ReservationID: reservation.ID,
		SessionID:     reservation.SessionID,
		MemberID:      reservation.MemberID,
		BookedAt:      reservation.CreatedAt,
	})
}

func (p *NatsPublisher) PublishReservationCancelled(reservation *model.Reservation) error {
	cancelledAt := time.Now()
	if reservation.CancelledAt != nil {
		cancelledAt = *reservation.CancelledAt
	}

	return p.publish(SubjectReservationCancelled, ReservationCancelledEvent{
		EventType:     SubjectReservationCancelled,
		ReservationID: reservation.ID,
		SessionID:     reservation.SessionID,
		MemberID:      reservation.MemberID,
		CancelledAt:   cancelledAt,
	})
}
