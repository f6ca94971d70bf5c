package api

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"booking-engine/internal/engine"
	"booking-engine/internal/model"
	"booking-engine/internal/service"
)

type BookingHandler struct {
	service  service.BookingService
	validate *validator.Validate
}

func NewBookingHandler(service service.BookingService) *BookingHandler {
	return &BookingHandler{
		service:  service,
		validate: validator.New(),
	}
}

type CreateSessionRequest struct {
	CourseID string    `json:"course_id" validate:"required,uuid"`
	CoachID  string    `json:"coach_id" validate:"required,uuid"`
	Title    string    `json:"title" validate:"required,min=5,max=100"`
	StartAt  time.Time `json:"start_at" validate:"required"`
	EndAt    time.Time `json:"end_at" validate:"required"`
	Capacity int       `json:"capacity" validate:"required,min=1"`
}

type BookReservationRequest struct {
	MemberID  string `json:"member_id" validate:"required,uuid"`
	SessionID string `json:"session_id" validate:"required,uuid"`
}

type SessionAvailabilityResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Capacity  int       `json:"capacity"`
	Booked    int       `json:"booked"`
	Remaining int       `json:"remaining"`
}

func (h *BookingHandler) CreateSession(c *fiber.Ctx) error {
	req := new(CreateSessionRequest)
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}

	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input", "details": err.Error()})
	}

	courseID, err := uuid.Parse(req.CourseID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid course ID"})
	}

	coachID, err := uuid.Parse(req.CoachID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid coach ID"})
	}

	session := &model.Session{
		CourseID: courseID,
		CoachID:  coachID,
		Title:    req.Title,
		StartAt:  req.StartAt,
		EndAt:    req.EndAt,
		Capacity: req.Capacity,
	}

	created, err := h.service.CreateSession(c.UserContext(), session)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSessionWindow):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		default:
			slog.ErrorContext(c.UserContext(), "Failed to create session", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Something went wrong"})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *BookingHandler) CloseSession(c *fiber.Ctx) error {
	sessionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session ID"})
	}

	if err := h.service.CloseSession(c.UserContext(), sessionID); err != nil {
		switch {
		case errors.Is(err, engine.ErrSessionNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		default:
			slog.ErrorContext(c.UserContext(), "Failed to close session", "error", err, "session_id", sessionID)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Something went wrong"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": "Session closed"})
}

func (h *BookingHandler) BookReservation(c *fiber.Ctx) error {
	req := new(BookReservationRequest)
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}

	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input", "details": err.Error()})
	}

	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid member ID"})
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session ID"})
	}

	reservation, err := h.service.Book(c.UserContext(), memberID, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrSessionNotFound), errors.Is(err, engine.ErrMemberNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, engine.ErrSessionClosed), errors.Is(err, engine.ErrSessionStarted):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, engine.ErrCapacityExceeded),
			errors.Is(err, engine.ErrScheduleConflict),
			errors.Is(err, engine.ErrAlreadyBooked):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			slog.ErrorContext(c.UserContext(), "Failed to book reservation", "error", err,
				"member_id", memberID, "session_id", sessionID)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Something went wrong"})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(reservation)
}

// CancelReservation is idempotent: cancelling an unknown or already
// cancelled reservation reports success without changing anything.
func (h *BookingHandler) CancelReservation(c *fiber.Ctx) error {
	reservationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid reservation ID"})
	}

	if err := h.service.Cancel(c.UserContext(), reservationID); err != nil {
		slog.ErrorContext(c.UserContext(), "Failed to cancel reservation", "error", err,
			"reservation_id", reservationID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Something went wrong"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": "Reservation cancelled"})
}

func (h *BookingHandler) GetReservation(c *fiber.Ctx) error {
	reservationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid reservation ID"})
	}

	reservation, err := h.service.GetReservation(c.UserContext(), reservationID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrReservationNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		default:
			slog.ErrorContext(c.UserContext(), "Failed to get reservation", "error", err,
				"reservation_id", reservationID)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Something went wrong"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(reservation)
}

func (h *BookingHandler) ListMemberReservations(c *fiber.Ctx) error {
	memberID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid member ID"})
	}

	reservations, err := h.service.ActiveReservationsFor(c.UserContext(), memberID)
	if err != nil {
		slog.ErrorContext(c.UserContext(), "Failed to list reservations", "error", err,
			"member_id", memberID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Something went wrong"})
	}

	return c.Status(fiber.StatusOK).JSON(reservations)
}

func (h *BookingHandler) GetSessionAvailability(c *fiber.Ctx) error {
	sessionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session ID"})
	}

	state, err := h.service.SessionAvailability(sessionID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrSessionNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		default:
			slog.ErrorContext(c.UserContext(), "Failed to read availability", "error", err,
				"session_id", sessionID)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Something went wrong"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(SessionAvailabilityResponse{
		SessionID: state.SessionID,
		Capacity:  state.Capacity,
		Booked:    state.Booked,
		Remaining: state.Capacity - state.Booked,
	})
}
