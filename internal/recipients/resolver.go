// Package recipients expands newsletter target groups into a deduplicated
// recipient list.
package recipients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
	"github.com/Startup-Consulting-Inc/newsletter/internal/storage"
)

// MemberStore lists the members of a recipient group
type MemberStore interface {
	ListGroupMembers(ctx context.Context, groupID string) ([]models.Recipient, error)
}

// Resolver resolves group IDs into recipients
type Resolver struct {
	store  MemberStore
	logger *slog.Logger
}

// NewResolver creates a resolver
func NewResolver(store MemberStore, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve loads the members of every group and removes duplicate addresses.
// The first occurrence of an address wins and group order is preserved.
// Missing groups are skipped with a warning.
func (r *Resolver) Resolve(ctx context.Context, groupIDs []string) ([]models.Recipient, error) {
	result := []models.Recipient{}
	seen := make(map[string]struct{})

	for _, gid := range groupIDs {
		members, err := r.store.ListGroupMembers(ctx, gid)
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("recipient group not found, skipping", "group_id", gid)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load group %s: %w", gid, err)
		}

		for _, m := range members {
			key := strings.ToLower(strings.TrimSpace(m.Email))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, m)
		}
	}

	r.logger.Debug("recipients resolved", "groups", len(groupIDs), "recipients", len(result))
	return result, nil
}
