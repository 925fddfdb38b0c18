// Package store defines persistence for recordings. Backends live in
// subpackages and share the Patch semantics implemented here.
package store

import (
	"context"
	"fmt"
	"time"

	"runthru/internal/domain"
)

// Store persists recordings. Every method returns domain.ErrNotFound for an
// unknown id. Returned recordings are copies owned by the caller.
type Store interface {
	Create(ctx context.Context, rec *domain.Recording) error
	Get(ctx context.Context, id string) (*domain.Recording, error)
	// List returns recordings newest first.
	List(ctx context.Context, opts ListOptions) ([]*domain.Recording, error)
	// Update applies p atomically and returns the stored result.
	Update(ctx context.Context, id string, p Patch) (*domain.Recording, error)
	// AppendStep adds the next step. Its sequence must be len(steps)+1.
	AppendStep(ctx context.Context, id string, step domain.Step) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// ListOptions filters and pages List.
type ListOptions struct {
	Limit  int
	Offset int
	// Status, when set, keeps only recordings in that state.
	Status domain.Status
	// CreatedBefore, when set, keeps only recordings created earlier.
	CreatedBefore time.Time
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	// ExpectStatus turns the update into a compare-and-set on status.
	ExpectStatus *domain.Status

	Status         *domain.Status
	Progress       *int
	CurrentStep    *string
	VideoPath      *string
	AudioPath      *string
	FinalVideoPath *string
	ShareURL       *string
	// DurationSeconds is written once; later values are ignored.
	DurationSeconds *float64
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }

// Apply mutates rec in place according to p. It returns domain.ErrConflict
// when ExpectStatus does not match or the status move is illegal. Backends
// call it inside their own transaction or lock.
func Apply(rec *domain.Recording, p Patch, now time.Time) error {
	if p.ExpectStatus != nil && rec.Status != *p.ExpectStatus {
		return fmt.Errorf("%w: %s is %s, expected %s", domain.ErrConflict, rec.ID, rec.Status, *p.ExpectStatus)
	}
	if p.Status != nil && *p.Status != rec.Status {
		if !domain.CanTransition(rec.Status, *p.Status) {
			return fmt.Errorf("%w: %s cannot move from %s to %s", domain.ErrConflict, rec.ID, rec.Status, *p.Status)
		}
		rec.Status = *p.Status
	}
	if p.Progress != nil {
		rec.Progress = clampProgress(*p.Progress)
	}
	if p.CurrentStep != nil {
		rec.CurrentStep = *p.CurrentStep
	}
	if p.VideoPath != nil {
		rec.VideoPath = *p.VideoPath
	}
	if p.AudioPath != nil {
		rec.AudioPath = *p.AudioPath
	}
	if p.FinalVideoPath != nil {
		rec.FinalVideoPath = *p.FinalVideoPath
	}
	if p.ShareURL != nil {
		rec.ShareURL = *p.ShareURL
	}
	if p.DurationSeconds != nil && rec.DurationSeconds == nil {
		d := *p.DurationSeconds
		rec.DurationSeconds = &d
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		rec.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		rec.CompletedAt = &t
	}
	rec.UpdatedAt = now
	return nil
}

// CheckAppend validates that step is the next one for rec.
func CheckAppend(rec *domain.Recording, step domain.Step) error {
	if want := len(rec.Steps) + 1; step.Sequence != want {
		return fmt.Errorf("%w: step %d appended to %s, expected %d", domain.ErrConflict, step.Sequence, rec.ID, want)
	}
	return nil
}

// Page applies ListOptions to recordings already sorted newest first.
func Page(recs []*domain.Recording, opts ListOptions) []*domain.Recording {
	out := make([]*domain.Recording, 0, len(recs))
	for _, r := range recs {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if !opts.CreatedBefore.IsZero() && !r.CreatedAt.Before(opts.CreatedBefore) {
			continue
		}
		out = append(out, r)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []*domain.Recording{}
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
