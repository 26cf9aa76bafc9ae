package commands

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"crowdproof/contexts/verification/consensus-engine/adapters/memory"
	"crowdproof/contexts/verification/consensus-engine/domain/entities"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"
	"crowdproof/contexts/verification/consensus-engine/ports"
	eventsv1 "crowdproof/contracts/gen/events/v1"

	"github.com/stretchr/testify/require"
)

const sampleHash = "9F86D081884C7D659A2FEAA0C55AD015A3BF4F1B2B0B822CD15D6C15B0F00A08"

func newEvidenceUseCase() (*memory.Store, EvidenceUseCase) {
	store := memory.NewStore()
	return store, EvidenceUseCase{
		Evidence: store,
		Audit:    store,
		Clock:    fixedClock{now: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)},
		IDGen:    store,
	}
}

func TestRegisterEvidenceCreatesPendingItem(t *testing.T) {
	store, uc := newEvidenceUseCase()
	ctx := context.Background()

	evidence, err := uc.RegisterEvidence(ctx, RegisterEvidenceCommand{
		UploaderID:  "uploader-1",
		Title:       "  Bridge crack  ",
		ContentHash: sampleHash,
		MimeType:    "video/mp4",
		IPAddress:   "198.51.100.4",
	})
	require.NoError(t, err)
	require.NotEmpty(t, evidence.EvidenceID)
	require.Equal(t, entities.EvidenceStatusPending, evidence.Status)
	require.Equal(t, entities.MediaTypeVideo, evidence.MediaType)
	require.Equal(t, "Bridge crack", evidence.Title)
	require.Equal(t, strings.ToLower(sampleHash), evidence.ContentHash)

	stored, err := store.GetEvidence(ctx, evidence.EvidenceID)
	require.NoError(t, err)
	require.Equal(t, evidence, stored)

	rows, err := store.ListPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, eventsv1.EventTypeEvidenceRegistered, rows[0].EventType)

	var envelope ports.EventEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.Equal(t, evidence.EvidenceID, envelope.PartitionKey)

	audit := store.AuditEntries()
	require.Len(t, audit, 1)
	require.Equal(t, entities.AuditActionEvidenceUpload, audit[0].Action)
	require.Equal(t, "uploader-1", audit[0].ActorID)
}

func TestRegisterEvidenceKeepsProvidedID(t *testing.T) {
	_, uc := newEvidenceUseCase()

	evidence, err := uc.RegisterEvidence(context.Background(), RegisterEvidenceCommand{
		EvidenceID:  "ev-upstream",
		UploaderID:  "uploader-1",
		Title:       "Street sign",
		ContentHash: sampleHash,
		MediaType:   "document",
	})
	require.NoError(t, err)
	require.Equal(t, "ev-upstream", evidence.EvidenceID)
	require.Equal(t, entities.MediaTypeDocument, evidence.MediaType)
}

func TestRegisterEvidenceRejectsDuplicateHash(t *testing.T) {
	_, uc := newEvidenceUseCase()
	ctx := context.Background()
	cmd := RegisterEvidenceCommand{
		UploaderID:  "uploader-1",
		Title:       "Original",
		ContentHash: sampleHash,
		MimeType:    "image/png",
	}
	_, err := uc.RegisterEvidence(ctx, cmd)
	require.NoError(t, err)

	cmd.Title = "Copy"
	cmd.ContentHash = strings.ToLower(sampleHash)
	_, err = uc.RegisterEvidence(ctx, cmd)
	require.ErrorIs(t, err, domainerrors.ErrDuplicateEvidence)
}

func TestRegisterEvidenceValidation(t *testing.T) {
	cases := map[string]struct {
		cmd  RegisterEvidenceCommand
		want error
	}{
		"missing title": {
			cmd:  RegisterEvidenceCommand{UploaderID: "u", ContentHash: sampleHash},
			want: domainerrors.ErrInvalidEvidenceInput,
		},
		"missing uploader": {
			cmd:  RegisterEvidenceCommand{Title: "t", ContentHash: sampleHash},
			want: domainerrors.ErrInvalidEvidenceInput,
		},
		"short hash": {
			cmd:  RegisterEvidenceCommand{UploaderID: "u", Title: "t", ContentHash: "abc123"},
			want: domainerrors.ErrInvalidContentHash,
		},
		"non hex hash": {
			cmd:  RegisterEvidenceCommand{UploaderID: "u", Title: "t", ContentHash: strings.Repeat("zz", 32)},
			want: domainerrors.ErrInvalidContentHash,
		},
		"unknown media type": {
			cmd:  RegisterEvidenceCommand{UploaderID: "u", Title: "t", ContentHash: sampleHash, MediaType: "HOLOGRAM"},
			want: domainerrors.ErrInvalidMediaType,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, uc := newEvidenceUseCase()
			_, err := uc.RegisterEvidence(context.Background(), tc.cmd)
			require.ErrorIs(t, err, tc.want)
		})
	}
}
