package httpapi

import (
	"net/http"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/identity"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// tokenPair is the login/refresh response body.
type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in identity.RegisterInput
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.identity.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.identity.Authenticate(r.Context(), in.Email, in.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	access, err := s.tokens.IssueAccess(user.ID, user.UserTypeCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var refresh string
	err = s.store.WithinTx(r.Context(), func(uow *store.UnitOfWork) error {
		var err error
		refresh, err = s.tokens.IssueRefresh(r.Context(), uow, user.ID,
			r.UserAgent(), r.RemoteAddr)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, tokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	})
}

// handleRefresh rotates the refresh token: the presented token is
// revoked and a fresh pair is returned in one unit of work.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	var userID, newRefresh string
	err := s.store.WithinTx(r.Context(), func(uow *store.UnitOfWork) error {
		var err error
		userID, newRefresh, err = s.tokens.Rotate(r.Context(), uow,
			in.RefreshToken, r.UserAgent(), r.RemoteAddr)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.identity.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	access, err := s.tokens.IssueAccess(user.ID, user.UserTypeCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, tokenPair{
		AccessToken:  access,
		RefreshToken: newRefresh,
		TokenType:    "bearer",
	})
}

// handleLogout revokes the presented refresh token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.store.WithinTx(r.Context(), func(uow *store.UnitOfWork) error {
		userID, jti, err := s.tokens.ValidateRefresh(r.Context(), uow, in.RefreshToken)
		if err != nil {
			return err
		}
		if userID != actorFrom(r.Context()).UserID {
			return apperr.ErrInvalidToken
		}
		return s.tokens.Revoke(r.Context(), uow, jti)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

// handleLogoutAll revokes every refresh token of the actor.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	err := s.store.WithinTx(r.Context(), func(uow *store.UnitOfWork) error {
		return s.tokens.RevokeAll(r.Context(), uow, actor.UserID)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token string `json:"token" validate:"required"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.identity.VerifyEmail(r.Context(), in.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email" validate:"required,email"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.identity.RequestPasswordReset(r.Context(), in.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	// Always 204: whether the email exists is not disclosed.
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token       string `json:"token" validate:"required"`
		NewPassword string `json:"new_password" validate:"required,min=8"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.identity.ResetPassword(r.Context(), in.Token, in.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.identity.Get(r.Context(), actorFrom(r.Context()).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, user)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if err := s.identity.Deactivate(r.Context(), actor.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.store.WithinTx(r.Context(), func(uow *store.UnitOfWork) error {
		return s.tokens.RevokeAll(r.Context(), uow, actor.UserID)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}
