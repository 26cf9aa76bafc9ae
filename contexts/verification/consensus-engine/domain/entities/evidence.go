package entities

import (
	"strings"
	"time"
)

type EvidenceStatus string

const (
	EvidenceStatusPending  EvidenceStatus = "PENDING"
	EvidenceStatusVerified EvidenceStatus = "VERIFIED"
	EvidenceStatusRejected EvidenceStatus = "REJECTED"
	EvidenceStatusFlagged  EvidenceStatus = "FLAGGED"
)

func (s EvidenceStatus) Valid() bool {
	switch s {
	case EvidenceStatusPending, EvidenceStatusVerified, EvidenceStatusRejected, EvidenceStatusFlagged:
		return true
	default:
		return false
	}
}

// ParseEvidenceStatus accepts any letter case and surrounding whitespace.
func ParseEvidenceStatus(raw string) (EvidenceStatus, bool) {
	status := EvidenceStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return status, status.Valid()
}

type MediaType string

const (
	MediaTypeImage    MediaType = "IMAGE"
	MediaTypeVideo    MediaType = "VIDEO"
	MediaTypeAudio    MediaType = "AUDIO"
	MediaTypeDocument MediaType = "DOCUMENT"
)

func (m MediaType) Valid() bool {
	switch m {
	case MediaTypeImage, MediaTypeVideo, MediaTypeAudio, MediaTypeDocument:
		return true
	default:
		return false
	}
}

// MediaTypeFromMIME classifies an uploaded file by its MIME prefix. Anything
// that is not image, video or audio is stored as a document.
func MediaTypeFromMIME(mimeType string) MediaType {
	value := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(value, "image/"):
		return MediaTypeImage
	case strings.HasPrefix(value, "video/"):
		return MediaTypeVideo
	case strings.HasPrefix(value, "audio/"):
		return MediaTypeAudio
	default:
		return MediaTypeDocument
	}
}

type Evidence struct {
	EvidenceID  string
	ContentHash string
	Status      EvidenceStatus
	Title       string
	Description string
	MediaType   MediaType
	UploaderID  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EvidenceSummary is the list/detail read model: the evidence row plus the
// tally of its current vote set.
type EvidenceSummary struct {
	Evidence Evidence
	Tally    Tally
}
