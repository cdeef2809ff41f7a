package syncer

import "context"

// Confirmer asks whether local edits may be overwritten.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// AssumeYes approves every overwrite (--yes).
var AssumeYes Confirmer = ConfirmFunc(func(ctx context.Context, _ string) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
})

// Decline refuses every overwrite.
var Decline Confirmer = ConfirmFunc(func(context.Context, string) (bool, error) {
	return false, nil
})
