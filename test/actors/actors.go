// Package actors drives the coordinator service concurrently. Each actor
// loops until stop is closed and treats contention and killed backends as
// expected noise.
package actors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"coordhub/coordinator"
)

// Service is the slice of the coordinator service the actors exercise.
type Service interface {
	ListCalls(ctx context.Context, coordinatorID int64) ([]coordinator.Call, error)
	AddCall(ctx context.Context, coordinatorID int64, notes *string, eventID *int64) (coordinator.Call, error)
	RemoveCall(ctx context.Context, callID int64) error
	Confirm(ctx context.Context, id int64, conf coordinator.Confirmation) (coordinator.Coordinator, error)
	Unconfirm(ctx context.Context, id int64) (coordinator.Coordinator, error)
	AddGuest(ctx context.Context, coordinatorID int64, in coordinator.GuestInput) (coordinator.Coordinator, error)
	RemoveGuest(ctx context.Context, coordinatorID, guestID int64) (coordinator.Coordinator, error)
	AssignEvent(ctx context.Context, coordinatorID, eventID int64) error
	UnassignEvent(ctx context.Context, coordinatorID, eventID int64) error
}

// Target is the seeded data every actor picks from.
type Target struct {
	CoordinatorIDs []int64
	EventIDs       []int64
}

func (t Target) coordinator(rng *rand.Rand) int64 {
	return t.CoordinatorIDs[rng.Intn(len(t.CoordinatorIDs))]
}

func (t Target) event(rng *rand.Rand) int64 {
	return t.EventIDs[rng.Intn(len(t.EventIDs))]
}

// Caller logs calls, half of them against an event.
func Caller(ctx context.Context, svc Service, target Target, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, 5, 15, func() error {
		notes := fmt.Sprintf("stress call %d", rng.Int63())
		var eventID *int64
		if rng.Intn(2) == 0 {
			id := target.event(rng)
			eventID = &id
		}
		_, err := svc.AddCall(ctx, target.coordinator(rng), &notes, eventID)
		return err
	})
}

// CallRemover deletes a random call of a random coordinator, racing Caller
// over last_call_at.
func CallRemover(ctx context.Context, svc Service, target Target, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, 10, 30, func() error {
		calls, err := svc.ListCalls(ctx, target.coordinator(rng))
		if err != nil || len(calls) == 0 {
			return err
		}
		return svc.RemoveCall(ctx, calls[rng.Intn(len(calls))].ID)
	})
}

// Confirmer flips confirmation with a random guest count.
func Confirmer(ctx context.Context, svc Service, target Target, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, 10, 25, func() error {
		id := target.coordinator(rng)
		if rng.Intn(3) == 0 {
			_, err := svc.Unconfirm(ctx, id)
			return err
		}
		_, err := svc.Confirm(ctx, id, coordinator.Confirmation{GuestCount: rng.Intn(6)})
		return err
	})
}

// Roster adds guests and removes the oldest one again.
func Roster(ctx context.Context, svc Service, target Target, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, 15, 35, func() error {
		id := target.coordinator(rng)
		c, err := svc.AddGuest(ctx, id, coordinator.GuestInput{
			Name:       "Guest",
			NationalID: fmt.Sprintf("%d", rng.Int63n(1_000_000_000)),
			Phone:      fmt.Sprintf("300%07d", rng.Intn(10_000_000)),
		})
		if err != nil || len(c.Guests) < 3 {
			return err
		}
		_, err = svc.RemoveGuest(ctx, id, c.Guests[0].ID)
		return err
	})
}

// Assigner toggles event assignments; assigning twice must stay idempotent.
func Assigner(ctx context.Context, svc Service, target Target, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, 10, 20, func() error {
		cid, eid := target.coordinator(rng), target.event(rng)
		if rng.Intn(2) == 0 {
			return svc.UnassignEvent(ctx, cid, eid)
		}
		return svc.AssignEvent(ctx, cid, eid)
	})
}

func loop(ctx context.Context, stop <-chan struct{}, rng *rand.Rand, minMs, jitterMs int, step func() error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := step(); err != nil && !Tolerable(err) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		time.Sleep(time.Duration(minMs+rng.Intn(jitterMs)) * time.Millisecond)
	}
}

// Tolerable reports errors that concurrent actors and chaos produce by
// design: rows removed by another actor, deadlocks, serialization failures
// and terminated backends.
func Tolerable(err error) bool {
	if errors.Is(err, coordinator.ErrNotFound) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01":
			return true
		}
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}
