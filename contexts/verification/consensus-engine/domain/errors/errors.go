package errors

import (
	"errors"
	"fmt"
)

// Categories. Every specific error below wraps exactly one of them so callers
// can branch with errors.Is on the category alone.
var (
	ErrValidation = errors.New("invalid verification input")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

var (
	ErrEvidenceIDRequired      = fmt.Errorf("%w: evidence id is required", ErrValidation)
	ErrVerifierIDRequired      = fmt.Errorf("%w: verifier id is required", ErrValidation)
	ErrInvalidDecision         = fmt.Errorf("%w: decision must be APPROVED, REJECTED or FLAGGED", ErrValidation)
	ErrInvalidConfidence       = fmt.Errorf("%w: confidence must be between 0 and 100", ErrValidation)
	ErrInvalidVerificationType = fmt.Errorf("%w: type must be COMMUNITY, EXPERT or AUTOMATED", ErrValidation)
	ErrInvalidEvidenceInput    = fmt.Errorf("%w: title and uploader are required", ErrValidation)
	ErrInvalidContentHash      = fmt.Errorf("%w: content hash must be a hex sha-256 digest", ErrValidation)
	ErrInvalidMediaType        = fmt.Errorf("%w: media type must be IMAGE, VIDEO, AUDIO or DOCUMENT", ErrValidation)
	ErrInvalidListFilter       = fmt.Errorf("%w: invalid evidence list filter", ErrValidation)
	ErrInvalidPolicy           = fmt.Errorf("%w: invalid consensus policy", ErrValidation)

	ErrEvidenceNotFound = fmt.Errorf("evidence %w", ErrNotFound)
	ErrVerifierNotFound = fmt.Errorf("verifier %w", ErrNotFound)
	ErrVoteNotFound     = fmt.Errorf("vote %w", ErrNotFound)

	ErrWriteConflict  = fmt.Errorf("concurrent evidence write %w", ErrConflict)
	ErrOutboxConflict = fmt.Errorf("outbox event %w", ErrConflict)

	ErrDuplicateEvidence      = errors.New("evidence with the same content hash already exists")
	ErrIdempotencyKeyConflict = errors.New("idempotency key conflict")
)
