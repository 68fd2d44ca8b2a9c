package auth

import (
	"context"
	"time"
)

// ActorStore persists actors. Phone numbers are unique.
type ActorStore interface {
	CreateActor(ctx context.Context, a Actor) error
	GetActor(ctx context.Context, id string) (Actor, error)
	GetActorByPhone(ctx context.Context, phone string) (Actor, error)
	UpdateActor(ctx context.Context, a Actor) error
	ListActors(ctx context.Context) ([]Actor, error)
}

// OTPStore persists one-time codes. SupersedeActive and ConsumeCode must be
// atomic per phone so that concurrent requests cannot leave two live codes or
// consume the same code twice.
type OTPStore interface {
	CreateCode(ctx context.Context, c OTPCode) error

	// SupersedeActive marks every live (unused, unexpired) code for the phone
	// as superseded and returns how many it retired.
	SupersedeActive(ctx context.Context, phone string, now time.Time) (int, error)

	// ConsumeCode finds the live code matching phone and code, marks it
	// verified, and returns it. When no live code matches it returns
	// ErrInvalidCode.
	ConsumeCode(ctx context.Context, phone, code string, now time.Time) (OTPCode, error)
}
