package lifecycle

import (
	"time"

	"ephemeral-chat/internal/apperrors"
	"ephemeral-chat/internal/models"
)

// StartsOnView reports whether the kind's countdown begins at viewed_at.
func StartsOnView(kind models.MessageKind) bool {
	return kind == models.KindEphemeralBroadcast || kind == models.KindPersonalHide
}

// ExpiresOnSend reports whether expires_at is fixed when the message is stored.
func ExpiresOnSend(kind models.MessageKind) bool {
	return kind == models.KindTimed
}

// ExpiryScope is the deletion a kind receives once its countdown elapses.
// Standard messages never expire and report ok=false.
func ExpiryScope(kind models.MessageKind) (models.DeleteScope, bool) {
	switch kind {
	case models.KindEphemeralBroadcast, models.KindTimed:
		return models.ScopeEveryone, true
	case models.KindPersonalHide:
		return models.ScopeMe, true
	}
	return "", false
}

// GlobalExpiryKinds lists kinds whose expiry erases the message for everyone.
func GlobalExpiryKinds() []models.MessageKind {
	return []models.MessageKind{models.KindEphemeralBroadcast, models.KindTimed}
}

// ResolveScope decides the mutation for a delete request by actor at now.
// An expired message always receives its kind's expiry scope, so a broadcast
// self-destruct is never satisfied by a ledger row alone.
func ResolveScope(msg models.Message, actorID int64, requested models.DeleteScope, now time.Time) (models.DeleteScope, error) {
	if !requested.Valid() {
		return "", apperrors.InvalidArg("scope must be me or everyone")
	}

	expiryScope, expiring := ExpiryScope(msg.Kind)
	expired := expiring && msg.Expired(now)

	switch requested {
	case models.ScopeEveryone:
		if msg.AuthorID == actorID {
			return models.ScopeEveryone, nil
		}
		if expired && expiryScope == models.ScopeEveryone {
			return models.ScopeEveryone, nil
		}
		return "", apperrors.Forbidden("only the author can delete for everyone")
	default:
		if expired && expiryScope == models.ScopeEveryone {
			return models.ScopeEveryone, nil
		}
		return models.ScopeMe, nil
	}
}
