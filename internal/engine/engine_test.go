package engine

import (
	"booking-engine/internal/model"
	"booking-engine/internal/repository"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var clock = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

// memoryLedger implements repository.ReservationLedger with the same
// uniqueness rule the partial index enforces in Postgres, so engine
// behavior can be exercised without a database.
type memoryLedger struct {
	mu           sync.Mutex
	reservations map[uuid.UUID]*model.Reservation
	windows      map[uuid.UUID]model.Window
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		reservations: make(map[uuid.UUID]*model.Reservation),
		windows:      make(map[uuid.UUID]model.Window),
	}
}

func (l *memoryLedger) trackWindow(sessionID uuid.UUID, window model.Window) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows[sessionID] = window
}

func (l *memoryLedger) Append(_ context.Context, reservation *model.Reservation) (*model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.reservations {
		if existing.Status == model.ReservationBooked &&
			existing.MemberID == reservation.MemberID &&
			existing.SessionID == reservation.SessionID {
			return nil, repository.ErrDuplicateActiveReservation
		}
	}

	reservation.ID = uuid.New()
	reservation.CreatedAt = time.Now().UTC()
	stored := *reservation
	l.reservations[stored.ID] = &stored

	return reservation, nil
}

func (l *memoryLedger) FindByID(_ context.Context, reservationID uuid.UUID) (*model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservation, ok := l.reservations[reservationID]
	if !ok {
		return nil, nil
	}

	found := *reservation
	return &found, nil
}

func (l *memoryLedger) FindActive(_ context.Context, memberID, sessionID uuid.UUID) (*model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, reservation := range l.reservations {
		if reservation.Status == model.ReservationBooked &&
			reservation.MemberID == memberID &&
			reservation.SessionID == sessionID {
			found := *reservation
			return &found, nil
		}
	}

	return nil, nil
}

func (l *memoryLedger) MarkCancelled(_ context.Context, reservationID uuid.UUID, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservation, ok := l.reservations[reservationID]
	if !ok || reservation.Status != model.ReservationBooked {
		return false, nil
	}

	cancelledAt := at
	reservation.Status = model.ReservationCancelled
	reservation.CancelledAt = &cancelledAt

	return true, nil
}

func (l *memoryLedger) MarkCompleted(_ context.Context, reservationID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservation, ok := l.reservations[reservationID]
	if !ok || reservation.Status != model.ReservationBooked {
		return false, nil
	}

	reservation.Status = model.ReservationCompleted
	return true, nil
}

func (l *memoryLedger) ListActiveByMember(_ context.Context, memberID uuid.UUID) ([]model.ReservationDetails, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	details := []model.ReservationDetails{}
	for _, reservation := range l.reservations {
		if reservation.Status != model.ReservationBooked || reservation.MemberID != memberID {
			continue
		}
		window := l.windows[reservation.SessionID]
		details = append(details, model.ReservationDetails{
			ID:        reservation.ID,
			SessionID: reservation.SessionID,
			Status:    reservation.Status,
			StartAt:   window.StartAt,
			EndAt:     window.EndAt,
			CreatedAt: reservation.CreatedAt,
		})
	}

	return details, nil
}

func (l *memoryLedger) ListActiveBySession(_ context.Context, sessionID uuid.UUID) ([]model.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var reservations []model.Reservation
	for _, reservation := range l.reservations {
		if reservation.Status == model.ReservationBooked && reservation.SessionID == sessionID {
			reservations = append(reservations, *reservation)
		}
	}

	return reservations, nil
}

func (l *memoryLedger) ActiveWindows(_ context.Context) ([]repository.ActiveWindow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var windows []repository.ActiveWindow
	for _, reservation := range l.reservations {
		if reservation.Status != model.ReservationBooked {
			continue
		}
		window := l.windows[reservation.SessionID]
		windows = append(windows, repository.ActiveWindow{
			MemberID:  reservation.MemberID,
			SessionID: reservation.SessionID,
			StartAt:   window.StartAt,
			EndAt:     window.EndAt,
		})
	}

	return windows, nil
}

func (l *memoryLedger) CountActiveBySession(_ context.Context) (map[uuid.UUID]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[uuid.UUID]int)
	for _, reservation := range l.reservations {
		if reservation.Status == model.ReservationBooked {
			counts[reservation.SessionID]++
		}
	}

	return counts, nil
}

// failingLedger simulates a storage outage on Append.
type failingLedger struct {
	*memoryLedger
	appendErr error
}

func (l *failingLedger) Append(context.Context, *model.Reservation) (*model.Reservation, error) {
	return nil, l.appendErr
}

type memberSet struct {
	ids map[uuid.UUID]bool
}

func membersOf(ids ...uuid.UUID) *memberSet {
	set := &memberSet{ids: make(map[uuid.UUID]bool, len(ids))}
	for _, id := range ids {
		set.ids[id] = true
	}
	return set
}

func (m *memberSet) Exists(_ context.Context, memberID uuid.UUID) (bool, error) {
	return m.ids[memberID], nil
}

func (m *memberSet) Upsert(_ context.Context, member *model.Member) error {
	m.ids[member.ID] = true
	return nil
}

func sessionAt(startHour, startMin, endHour, endMin, capacity int) model.Session {
	day := clock.Truncate(24 * time.Hour)
	return model.Session{
		ID:       uuid.New(),
		CourseID: uuid.New(),
		CoachID:  uuid.New(),
		Title:    "Morning Yoga",
		StartAt:  day.Add(time.Duration(startHour)*time.Hour + time.Duration(startMin)*time.Minute),
		EndAt:    day.Add(time.Duration(endHour)*time.Hour + time.Duration(endMin)*time.Minute),
		Capacity: capacity,
		Status:   model.SessionScheduled,
	}
}

func newTestEngine(ledger repository.ReservationLedger, members repository.MemberRepository) *Engine {
	e := New(ledger, members)
	e.now = func() time.Time { return clock }
	return e
}

func register(e *Engine, ledger *memoryLedger, sessions ...model.Session) {
	for _, session := range sessions {
		e.RegisterSession(session, 0)
		ledger.trackWindow(session.ID, session.Window())
	}
}

func TestBookCommitsReservation(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	member := uuid.New()
	session := sessionAt(10, 0, 11, 0, 5)

	e := newTestEngine(ledger, membersOf(member))
	register(e, ledger, session)

	reservation, err := e.Book(ctx, member, session.ID)
	require.NoError(t, err)
	require.NotNil(t, reservation)
	require.Equal(t, model.ReservationBooked, reservation.Status)
	require.Equal(t, session.ID, reservation.SessionID)
	require.Equal(t, member, reservation.MemberID)
	require.NotEqual(t, uuid.Nil, reservation.ID)

	state, err := e.SessionState(session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, state.Booked)
	require.Equal(t, 5, state.Capacity)

	active, err := ledger.FindActive(ctx, member, session.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
}

func TestBookValidationFailures(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	member := uuid.New()
	future := sessionAt(10, 0, 11, 0, 5)
	started := sessionAt(7, 0, 9, 0, 5)
	closed := sessionAt(12, 0, 13, 0, 5)

	e := newTestEngine(ledger, membersOf(member))
	register(e, ledger, future, started, closed)
	require.NoError(t, e.CloseSession(closed.ID))

	_, err := e.Book(ctx, member, uuid.New())
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = e.Book(ctx, uuid.New(), future.ID)
	require.ErrorIs(t, err, ErrMemberNotFound)

	_, err = e.Book(ctx, member, started.ID)
	require.ErrorIs(t, err, ErrSessionStarted)

	_, err = e.Book(ctx, member, closed.ID)
	require.ErrorIs(t, err, ErrSessionClosed)

	// None of the rejections may touch the booked counts.
	for _, session := range []model.Session{future, started, closed} {
		state, stateErr := e.SessionState(session.ID)
		require.NoError(t, stateErr)
		require.Equal(t, 0, state.Booked)
	}
}

func TestBookScheduleConflict(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	member := uuid.New()
	yoga := sessionAt(10, 0, 11, 0, 5)
	spin := sessionAt(10, 30, 11, 30, 5)

	e := newTestEngine(ledger, membersOf(member))
	register(e, ledger, yoga, spin)

	_, err := e.Book(ctx, member, yoga.ID)
	require.NoError(t, err)

	_, err = e.Book(ctx, member, spin.ID)
	require.ErrorIs(t, err, ErrScheduleConflict)

	state, err := e.SessionState(spin.ID)
	require.NoError(t, err)
	require.Equal(t, 0, state.Booked)
}

func TestBookTouchingWindowsDoNotConflict(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	member := uuid.New()
	yoga := sessionAt(10, 0, 11, 0, 5)
	pilates := sessionAt(11, 0, 12, 0, 5)

	e := newTestEngine(ledger, membersOf(member))
	register(e, ledger, yoga, pilates)

	_, err := e.Book(ctx, member, yoga.ID)
	require.NoError(t, err)

	_, err = e.Book(ctx, member, pilates.ID)
	require.NoError(t, err)
}

func TestBookCapacityExceeded(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	first := uuid.New()
	second := uuid.New()
	session := sessionAt(10, 0, 11, 0, 1)

	e := newTestEngine(ledger, membersOf(first, second))
	register(e, ledger, session)

	_, err := e.Book(ctx, first, session.ID)
	require.NoError(t, err)

	_, err = e.Book(ctx, second, session.ID)
	require.ErrorIs(t, err, ErrCapacityExceeded)

	state, err := e.SessionState(session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, state.Booked)
}

func TestLastSlotContention(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	alice := uuid.New()
	bob := uuid.New()
	session := sessionAt(10, 0, 11, 0, 1)

	e := newTestEngine(ledger, membersOf(alice, bob))
	register(e, ledger, session)

	start := make(chan struct{})
	results := make(chan error, 2)
	for _, member := range []uuid.UUID{alice, bob} {
		go func(member uuid.UUID) {
			<-start
			_, err := e.Book(ctx, member, session.ID)
			results <- err
		}(member)
	}
	close(start)

	var committed, rejected int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			committed++
		case errors.Is(err, ErrCapacityExceeded):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	require.Equal(t, 1, committed)
	require.Equal(t, 1, rejected)

	state, err := e.SessionState(session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, state.Booked)
}

func TestCapacityInvariantUnderConcurrentLoad(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	session := sessionAt(10, 0, 11, 0, 3)

	members := make([]uuid.UUID, 20)
	for i := range members {
		members[i] = uuid.New()
	}
	e := newTestEngine(ledger, membersOf(members...))
	register(e, ledger, session)

	done := make(chan struct{})
	violations := make(chan int, 1)
	go func() {
		for {
			select {
			case <-done:
				close(violations)
				return
			default:
				state, err := e.SessionState(session.ID)
				if err == nil && (state.Booked < 0 || state.Booked > 3) {
					violations <- state.Booked
					return
				}
			}
		}
	}()

	var wg sync.WaitGroup
	committed := make(chan *model.Reservation, len(members))
	for _, member := range members {
		wg.Add(1)
		go func(member uuid.UUID) {
			defer wg.Done()
			if reservation, err := e.Book(ctx, member, session.ID); err == nil {
				committed <- reservation
			}
		}(member)
	}
	wg.Wait()
	close(committed)

	var reservations []*model.Reservation
	for reservation := range committed {
		reservations = append(reservations, reservation)
	}
	require.Len(t, reservations, 3)

	state, err := e.SessionState(session.ID)
	require.NoError(t, err)
	require.Equal(t, 3, state.Booked)

	// Concurrent cancels return every slot exactly once.
	cancelErrs := make(chan error, len(reservations))
	for _, reservation := range reservations {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, cancelErr := e.Cancel(ctx, id)
			cancelErrs <- cancelErr
		}(reservation.ID)
	}
	wg.Wait()
	close(done)
	close(cancelErrs)
	for cancelErr := range cancelErrs {
		require.NoError(t, cancelErr)
	}

	if booked, ok := <-violations; ok {
		t.Fatalf("observed booked count %d outside [0, 3]", booked)
	}

	state, err = e.SessionState(session.ID)
	require.NoError(t, err)
	require.Equal(t, 0, state.Booked)
}

func TestRetriedRequestCompensates(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	member := uuid.New()
	session := sessionAt(10, 0, 11, 0, 10)

	e := newTestEngine(ledger, membersOf(member))
	register(e, ledger, session)

	start := make(chan struct{})
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			_, err := e.Book(ctx, member, session.ID)
			results <- err
		}()
	}
	close(start)

	var committed, duplicate int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			committed++
		case errors.Is(err, ErrAlreadyBooked):
			duplicate++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	require.Equal(t, 1, committed)
	require.Equal(t, 1, duplicate)

	// The losing request must have released its optimistic slot.
	state, err := e.SessionState(session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, state.Booked)
}

func TestAppendFailureReleasesSlot(t *testing.T) {
	ctx := context.Background()
	member := uuid.New()
	session := sessionAt(10, 0, 11, 0, 2)

	ledger := &failingLedger{memoryLedger: newMemoryLedger(), appendErr: errors.New("connection refused")}
	e := newTestEngine(ledger, membersOf(member))
	e.RegisterSession(session, 0)

	_, err := e.Book(ctx, member, session.ID)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyBooked)

	state, err := e.SessionState(session.ID)
	require.NoError(t, err)
	require.Equal(t, 0, state.Booked)
}

func TestBookCancelRebook(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	member := uuid.New()
	session := sessionAt(10, 0, 11, 0, 1)

	e := newTestEngine(ledger, membersOf(member))
	register(e, ledger, session)

	first, err := e.Book(ctx, member, session.ID)
	require.NoError(t, err)

	cancelled, err := e.Cancel(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, cancelled)
	require.Equal(t, model.ReservationCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	state, err := e.SessionState(session.ID)
	require.NoError(t, err)
	require.Equal(t, 0, state.Booked)

	second, err := e.Book(ctx, member, session.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	state, err = e.SessionState(session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, state.Booked)
}

func TestCancelIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	member := uuid.New()
	session := sessionAt(10, 0, 11, 0, 3)

	e := newTestEngine(ledger, membersOf(member))
	register(e, ledger, session)

	reservation, err := e.Book(ctx, member, session.ID)
	require.NoError(t, err)

	cancelled, err := e.Cancel(ctx, reservation.ID)
	require.NoError(t, err)
	require.NotNil(t, cancelled)

	again, err := e.Cancel(ctx, reservation.ID)
	require.NoError(t, err)
	require.Nil(t, again)

	missing, err := e.Cancel(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)

	state, err := e.SessionState(session.ID)
	require.NoError(t, err)
	require.Equal(t, 0, state.Booked)
}

func TestConcurrentCancelsReleaseOnce(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	alice := uuid.New()
	bob := uuid.New()
	session := sessionAt(10, 0, 11, 0, 2)

	e := newTestEngine(ledger, membersOf(alice, bob))
	register(e, ledger, session)

	reservation, err := e.Book(ctx, alice, session.ID)
	require.NoError(t, err)
	_, err = e.Book(ctx, bob, session.ID)
	require.NoError(t, err)

	start := make(chan struct{})
	cancelErrs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, cancelErr := e.Cancel(ctx, reservation.ID)
			cancelErrs <- cancelErr
		}()
	}
	close(start)
	wg.Wait()
	close(cancelErrs)
	for cancelErr := range cancelErrs {
		require.NoError(t, cancelErr)
	}

	// Bob's slot must survive the double cancel of Alice's reservation.
	state, err := e.SessionState(session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, state.Booked)
}

func TestRestoredStateMatchesLive(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()
	yoga := sessionAt(10, 0, 11, 0, 3)
	spin := sessionAt(14, 0, 15, 0, 1)

	live := newTestEngine(ledger, membersOf(alice, bob, carol))
	register(live, ledger, yoga, spin)

	_, err := live.Book(ctx, alice, yoga.ID)
	require.NoError(t, err)
	bobRes, err := live.Book(ctx, bob, yoga.ID)
	require.NoError(t, err)
	_, err = live.Book(ctx, carol, spin.ID)
	require.NoError(t, err)
	_, err = live.Cancel(ctx, bobRes.ID)
	require.NoError(t, err)

	// Rebuild a fresh engine from the ledger alone.
	restored := newTestEngine(ledger, membersOf(alice, bob, carol))
	counts, err := ledger.CountActiveBySession(ctx)
	require.NoError(t, err)
	restored.RegisterSession(yoga, counts[yoga.ID])
	restored.RegisterSession(spin, counts[spin.ID])
	windows, err := ledger.ActiveWindows(ctx)
	require.NoError(t, err)
	for _, window := range windows {
		restored.RestoreReservation(window.MemberID, window.SessionID, model.Window{StartAt: window.StartAt, EndAt: window.EndAt})
	}

	for _, session := range []model.Session{yoga, spin} {
		liveState, stateErr := live.SessionState(session.ID)
		require.NoError(t, stateErr)
		restoredState, stateErr := restored.SessionState(session.ID)
		require.NoError(t, stateErr)
		require.Equal(t, liveState, restoredState)
	}

	for _, member := range []uuid.UUID{alice, bob, carol} {
		require.ElementsMatch(t, live.schedule.ActiveWindows(member), restored.schedule.ActiveWindows(member))
	}

	// The restored engine enforces the same invariants the live one did.
	_, err = restored.Book(ctx, bob, spin.ID)
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestCancelAfterSessionRetired(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	member := uuid.New()
	session := sessionAt(10, 0, 11, 0, 1)

	e := newTestEngine(ledger, membersOf(member))
	register(e, ledger, session)

	reservation, err := e.Book(ctx, member, session.ID)
	require.NoError(t, err)

	e.RetireSession(session.ID)

	cancelled, err := e.Cancel(ctx, reservation.ID)
	require.NoError(t, err)
	require.NotNil(t, cancelled)

	_, err = e.SessionState(session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}
