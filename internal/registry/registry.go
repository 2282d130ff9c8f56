package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"convo-chat/internal/identity"
	"convo-chat/internal/storage"
)

// Registry creates conversations and resolves client-held conversation ids.
// New conversations are owned by the current identity, or nobody when none is
// provisioned.
type Registry struct {
	store      storage.Store
	identities identity.Provider
	log        *zap.Logger
}

func New(store storage.Store, identities identity.Provider, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{store: store, identities: identities, log: log}
}

func (r *Registry) CreateConversation(ctx context.Context) (int64, error) {
	owner, err := identity.OwnerID(ctx, r.identities)
	if err != nil {
		return 0, fmt.Errorf("resolve owner: %w", err)
	}
	conv, err := r.store.CreateConversation(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("create conversation: %w", err)
	}
	r.log.Debug("created conversation", zap.Int64("conversation_id", conv.ID), ownerField(owner))
	return conv.ID, nil
}

// Resolve returns candidate when it names an existing conversation. A nil
// candidate, or one with no row behind it, yields a newly created
// conversation instead; a stale id is never reported as an error.
func (r *Registry) Resolve(ctx context.Context, candidate *int64) (int64, error) {
	owner, err := identity.OwnerID(ctx, r.identities)
	if err != nil {
		return 0, fmt.Errorf("resolve owner: %w", err)
	}
	conv, created, err := r.store.ResolveConversation(ctx, candidate, owner)
	if err != nil {
		return 0, fmt.Errorf("resolve conversation: %w", err)
	}

	switch {
	case candidate != nil && created:
		r.log.Warn("conversation id is stale, started a new conversation",
			zap.Int64("requested_id", *candidate),
			zap.Int64("conversation_id", conv.ID))
	case created:
		r.log.Debug("created conversation", zap.Int64("conversation_id", conv.ID), ownerField(owner))
	default:
		r.log.Debug("resumed conversation", zap.Int64("conversation_id", conv.ID))
	}
	return conv.ID, nil
}

func ownerField(owner *int64) zap.Field {
	if owner == nil {
		return zap.String("owner", "anonymous")
	}
	return zap.Int64("owner", *owner)
}
