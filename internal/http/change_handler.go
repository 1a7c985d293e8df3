package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/room-tracker/internal/application"
	"github.com/example/room-tracker/internal/changelog"
	"github.com/example/room-tracker/internal/persistence"
)

type historyService interface {
	History(ctx context.Context, objectUUID string) ([]persistence.Change, error)
	Revert(ctx context.Context, params application.RevertParams) (persistence.Change, error)
	ChangeFields(change persistence.Change) (changelog.Fields, error)
}

type ChangeHandler struct {
	service   historyService
	responder responder
	logger    *slog.Logger
}

func NewChangeHandler(service historyService, logger *slog.Logger) *ChangeHandler {
	base := defaultLogger(logger)
	return &ChangeHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ChangeHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "ChangeHandler", operation, attrs...)
}

// List returns the history of ?object_uuid=, the event room id, oldest first.
func (h *ChangeHandler) List(w http.ResponseWriter, r *http.Request) {
	changes, err := h.service.History(r.Context(), r.URL.Query().Get("object_uuid"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]changeDTO, 0, len(changes))
	for _, change := range changes {
		out = append(out, h.toChangeDTO(r.Context(), change))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listChangesResponse{Changes: out})
}

func (h *ChangeHandler) Revert(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	change, err := h.service.Revert(r.Context(), application.RevertParams{
		ChangeID: r.PathValue("id"),
		AuthorID: userID,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, changeResponse{Change: h.toChangeDTO(r.Context(), change)})
}

func (h *ChangeHandler) toChangeDTO(ctx context.Context, change persistence.Change) changeDTO {
	dto := changeDTO{
		ID:           change.ID,
		Seq:          change.Seq,
		AuthorID:     change.AuthorID,
		Name:         change.Name,
		Type:         change.Type,
		ObjectUUID:   change.ObjectUUID,
		SubjectKind:  change.SubjectKind,
		SubjectID:    change.SubjectID,
		ParentID:     change.ParentID,
		RevertedFrom: change.Metadata.RevertedFrom,
		CreatedAt:    formatTime(change.CreatedAt),
	}
	fields, err := h.service.ChangeFields(change)
	if err != nil {
		// The entry is still listed; only its snapshot is withheld.
		h.log(ctx, "toChangeDTO", "change_id", change.ID).ErrorContext(ctx, "failed to decode change snapshot", "error", err)
		return dto
	}
	dto.Changes = fields
	return dto
}

type changeResponse struct {
	Change changeDTO `json:"change"`
}

type listChangesResponse struct {
	Changes []changeDTO `json:"changes"`
}

type changeDTO struct {
	ID           string           `json:"id"`
	Seq          int64            `json:"seq"`
	AuthorID     *string          `json:"author_id,omitempty"`
	Name         string           `json:"name"`
	Type         string           `json:"type"`
	ObjectUUID   string           `json:"object_uuid"`
	SubjectKind  string           `json:"subject_kind"`
	SubjectID    string           `json:"subject_id"`
	ParentID     *string          `json:"parent_id,omitempty"`
	RevertedFrom string           `json:"reverted_from,omitempty"`
	Changes      changelog.Fields `json:"changes,omitempty"`
	CreatedAt    string           `json:"created_at"`
}
