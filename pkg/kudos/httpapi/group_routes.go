package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kudos-app/kudos/pkg/kudos/group"
)

func (s *Server) handleGroupCreate(w http.ResponseWriter, r *http.Request) {
	var in group.CreateInput
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.groups.Create(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, g)
}

func (s *Server) handleGroupGet(w http.ResponseWriter, r *http.Request) {
	g, err := s.groups.Get(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, g)
}

func (s *Server) handleGroupSetParent(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ParentGroupID *string `json:"parent_group_id" validate:"omitempty,uuid"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.groups.UpdateParent(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), in.ParentGroupID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleGroupDelete(w http.ResponseWriter, r *http.Request) {
	err := s.groups.Delete(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleMembersList(w http.ResponseWriter, r *http.Request) {
	page, err := s.groups.ListMembers(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), pageFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, page)
}

func (s *Server) handleMemberAdd(w http.ResponseWriter, r *http.Request) {
	var in group.AddMemberInput
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.groups.AddMember(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, m)
}

func (s *Server) handleMemberRemove(w http.ResponseWriter, r *http.Request) {
	err := s.groups.RemoveMember(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleInviteCreate(w http.ResponseWriter, r *http.Request) {
	var in group.InviteInput
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.groups.Invite(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, inv)
}

func (s *Server) handleInviteAccept(w http.ResponseWriter, r *http.Request) {
	m, err := s.groups.Accept(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, m)
}

func (s *Server) handleInviteDecline(w http.ResponseWriter, r *http.Request) {
	err := s.groups.Decline(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleInviteRevoke(w http.ResponseWriter, r *http.Request) {
	err := s.groups.Revoke(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "invitationID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleTeamCreate(w http.ResponseWriter, r *http.Request) {
	var in group.TeamInput
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.groups.CreateTeam(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, t)
}

func (s *Server) handleTeamMemberAdd(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id" validate:"required,uuid"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.groups.AddTeamMember(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "teamID"), in.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleTeamMemberRemove(w http.ResponseWriter, r *http.Request) {
	err := s.groups.RemoveTeamMember(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "teamID"), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleTeamSetLeader(w http.ResponseWriter, r *http.Request) {
	var in struct {
		LeaderUserID *string `json:"leader_user_id" validate:"omitempty,uuid"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.groups.SetTeamLeader(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "teamID"), in.LeaderUserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleTeamDissolve(w http.ResponseWriter, r *http.Request) {
	err := s.groups.DissolveTeam(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "teamID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}
