package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kudos-app/kudos/pkg/kudos/task"
)

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var in task.CreateInput
	if err := s.decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	in.GroupID = chi.URLParam(r, "groupID")
	if err := s.validateStruct(&in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.tasks.Create(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, t)
}

func (s *Server) handleTasksList(w http.ResponseWriter, r *http.Request) {
	page, err := s.tasks.ListByGroup(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), pageFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, page)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, t)
}

func (s *Server) handleTaskAssign(w http.ResponseWriter, r *http.Request) {
	var in task.Assignee
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.tasks.Assign(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "taskID"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, a)
}

func (s *Server) handleTaskAddDependency(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PrerequisiteTaskID string `json:"prerequisite_task_id" validate:"required,uuid"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.tasks.AddDependency(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "taskID"), in.PrerequisiteTaskID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, d)
}

func (s *Server) handleTaskStart(w http.ResponseWriter, r *http.Request) {
	c, err := s.tasks.Start(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, c)
}

func (s *Server) handleTaskReview(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Rating  *int    `json:"rating" validate:"omitempty,min=1,max=5"`
		Comment *string `json:"comment" validate:"omitempty,max=2000"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	rev, err := s.tasks.SubmitReview(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "taskID"), in.Rating, in.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, rev)
}

func (s *Server) handleCompletionSubmit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Attachments []map[string]any `json:"attachments"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	attachments, err := encodeAttachments(in.Attachments)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.tasks.Submit(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "completionID"), attachments)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, c)
}

func (s *Server) handleCompletionApprove(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Notes *string `json:"notes" validate:"omitempty,max=2000"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.tasks.Approve(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "completionID"), in.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, c)
}

func (s *Server) handleCompletionReject(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Notes string `json:"notes" validate:"required,max=2000"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.tasks.Reject(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "completionID"), in.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, c)
}

func (s *Server) handleCompletionCancel(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Notes *string `json:"notes" validate:"omitempty,max=2000"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.tasks.Cancel(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "completionID"), in.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, c)
}
