package card

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/helixcard/helix/auth"
	resp "github.com/helixcard/helix/response"
	"github.com/helixcard/helix/user"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/lithammer/shortuuid/v3"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

var slugRegex = regexp.MustCompile("[^a-z0-9]+")

// Non-pro users may only keep one active card
const freeTierCardLimit = 1

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Auth        *auth.Auth
	CardManager *Manager
	UserManager *user.Manager
	Logger      *zap.Logger
}

// Service is the card API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the card API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.CardManager == nil {
		return nil, fmt.Errorf("nil CardManager is invalid")
	}
	if option.UserManager == nil {
		return nil, fmt.Errorf("nil UserManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// CreateRequest is the model of the card creation request
type CreateRequest struct {
	Title    string `json:"title" validate:"required,max=128"`
	Company  string `json:"company" validate:"max=128"`
	JobTitle string `json:"jobTitle" validate:"max=128"`
}

func (s *Service) createCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid card fields"))
		return
	}

	u, err := s.UserManager.GetByID(ctx, claims.ID)
	if err != nil || u == nil {
		logger.Error("Unable to look up user for card creation",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot create the card"))
		return
	}

	if !u.IsPro {
		count, err := s.CardManager.CountActiveByUser(ctx, claims.ID)
		if err != nil {
			resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot create the card"))
			return
		}
		if count >= freeTierCardLimit {
			resp.WriteError(w, r, resp.ErrForbidden().AddMessages("Upgrade to Pro to create more cards"))
			return
		}
	}

	id := shortuuid.New()
	c := &Card{
		ID:       id,
		UserID:   claims.ID,
		Slug:     s.slugFor(req.Title, id),
		Title:    req.Title,
		Company:  req.Company,
		JobTitle: req.JobTitle,
		Active:   true,
	}
	if err := s.CardManager.Create(ctx, c); err != nil {
		logger.Error("Unable to create card",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot create the card"))
		return
	}

	resp.WriteResponse(w, r, c)
}

func (s *Service) slugFor(title, id string) string {
	base := slugRegex.ReplaceAllString(strings.ToLower(title), "-")
	base = strings.Trim(base, "-")
	if len(base) == 0 {
		return strings.ToLower(id)
	}
	return base + "-" + strings.ToLower(id[:8])
}

func (s *Service) listCards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	results, err := s.CardManager.ListByUser(ctx, claims.ID)
	if err != nil {
		s.Logger.Error("Unable to list cards",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the list of cards"))
		return
	}

	resp.WriteResponse(w, r, results)
}

func (s *Service) getCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	cardID := chi.URLParam(r, "id")

	c, err := s.CardManager.GetByID(ctx, cardID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get details about the card"))
		return
	}
	if c == nil || c.UserID != claims.ID {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find card with specific ID"))
		return
	}

	resp.WriteResponse(w, r, c)
}

func (s *Service) deleteCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	cardID := chi.URLParam(r, "id")

	c, err := s.CardManager.GetByID(ctx, cardID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if c == nil || c.UserID != claims.ID {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find card with specific ID"))
		return
	}

	if err := s.CardManager.Delete(ctx, claims.ID, cardID); err != nil {
		s.Logger.Error("Unable to delete card",
			zap.String("UserID", claims.ID),
			zap.String("CardID", cardID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot delete the card"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Router will return the routes under card API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())

	r.Post("/", s.createCard)
	r.Get("/", s.listCards)
	r.Get("/{id}", s.getCard)
	r.Delete("/{id}", s.deleteCard)

	return r
}
