package lifecycle

import "ephemeral-chat/internal/apperrors"

var (
	ErrNotParticipant    = apperrors.Forbidden("not a conversation participant")
	ErrWrongConversation = apperrors.NotFound("message not found in conversation")
	ErrEmptyMessage      = apperrors.InvalidArg("message needs content or media")
	ErrInvalidKind       = apperrors.InvalidArg("unknown message kind")
	ErrInvalidTTL        = apperrors.InvalidArg("ttl out of range")
	ErrIDConflict        = apperrors.InvalidArg("message id already used")
)

// ErrMessageGone is returned by reads of messages that were deleted or hidden.
var ErrMessageGone = apperrors.NotFound("message is no longer available")
