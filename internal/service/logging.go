package service

import (
	"context"

	"socialqueue/internal/privacy"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// WithVerboseLogging marks ctx so owner ids are logged unmasked.
func WithVerboseLogging(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// SanitizeOwner masks an owner id unless ctx asks for verbose logging.
func SanitizeOwner(ctx context.Context, owner string) string {
	return privacy.MaskOwner(owner, IsVerboseLogging(ctx))
}

// SanitizeEntryID shortens entry ids in log lines.
func SanitizeEntryID(id string) string {
	if len(id) > entryIDLogLength {
		return id[:entryIDLogLength] + "..."
	}
	return id
}

const entryIDLogLength = 8
