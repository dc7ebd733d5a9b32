package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/gamification"
	"github.com/kudos-app/kudos/pkg/kudos/ledger"
	"github.com/kudos-app/kudos/pkg/kudos/report"
)

func encodeAttachments(items []map[string]any) ([]byte, error) {
	if items == nil {
		items = []map[string]any{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, apperr.Validation("error.validation").Wrap(err)
	}
	return data, nil
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	acc, err := s.ledger.Balance(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, acc)
}

func (s *Server) handleTransactionsList(w http.ResponseWriter, r *http.Request) {
	page, err := s.ledger.ListTransactions(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"), pageFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, page)
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id" validate:"required,uuid"`
		Amount string `json:"amount" validate:"required"`
		Reason string `json:"reason" validate:"omitempty,max=500"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(in.Amount)
	if err != nil {
		s.writeError(w, r, apperr.Validation("error.validation").WithMeta("field", "amount"))
		return
	}
	adj, err := s.ledger.Adjust(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), ledger.AdjustInput{
			UserID: in.UserID,
			Amount: amount,
			Reason: in.Reason,
		})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, adj)
}

func (s *Server) handleRewardPurchase(w http.ResponseWriter, r *http.Request) {
	tx, err := s.ledger.PurchaseReward(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "rewardID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, tx)
}

func (s *Server) handleLevelCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Number    int    `json:"number" validate:"required,min=1"`
		Name      string `json:"name" validate:"required,min=1,max=200"`
		Threshold string `json:"threshold" validate:"required"`
		ScoreType string `json:"score_type" validate:"omitempty,oneof=lifetime_bonus current_balance tasks_completed"`
	}
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	threshold, err := decimal.NewFromString(in.Threshold)
	if err != nil {
		s.writeError(w, r, apperr.Validation("error.validation").WithMeta("field", "threshold"))
		return
	}
	l, err := s.gamification.CreateLevel(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), gamification.LevelInput{
			Number:    in.Number,
			Name:      in.Name,
			Threshold: threshold,
			ScoreType: in.ScoreType,
		})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, l)
}

func (s *Server) handleCurrentLevel(w http.ResponseWriter, r *http.Request) {
	l, err := s.gamification.CurrentLevel(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if l == nil {
		s.respond(w, r, http.StatusOK, map[string]any{"level": nil})
		return
	}
	s.respond(w, r, http.StatusOK, l)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ratingType := r.URL.Query().Get("type")
	if ratingType == "" {
		ratingType = gamification.RatingLifetimeBonus
	}
	page, err := s.gamification.Leaderboard(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "groupID"), ratingType, pageFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, page)
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	items, err := s.gamification.ListAchievements(r.Context(), actorFrom(r.Context()).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	unreadOnly := r.URL.Query().Get("unread") == "true"
	page, err := s.notifications.List(r.Context(), actor, actor.UserID, unreadOnly, pageFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, page)
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	err := s.notifications.MarkRead(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "notificationID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleReportRequest(w http.ResponseWriter, r *http.Request) {
	var in report.RequestInput
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.reports.Request(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusAccepted, req)
}

func (s *Server) handleReportGet(w http.ResponseWriter, r *http.Request) {
	req, err := s.reports.Get(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "requestID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, req)
}
