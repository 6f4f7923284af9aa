package contact

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helixcard/helix/auth"
	resp "github.com/helixcard/helix/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/lithammer/shortuuid/v3"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Auth           *auth.Auth
	ContactManager *Manager
	Logger         *zap.Logger
}

// Service is the contact API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the contact API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.ContactManager == nil {
		return nil, fmt.Errorf("nil ContactManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// CreateRequest is the model of the contact creation request. Scanned cards are
// OCR'd client-side and posted here with Source set to "scan"
type CreateRequest struct {
	Name    string `json:"name" validate:"required,max=128"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"max=32"`
	Company string `json:"company" validate:"max=128"`
	Note    string `json:"note" validate:"max=1024"`
	Source  Source `json:"source" validate:"omitempty,oneof=manual scan"`
}

func (s *Service) createContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid contact fields"))
		return
	}

	source := req.Source
	if source == "" {
		source = SourceManual
	}

	c := &Contact{
		ID:      shortuuid.New(),
		UserID:  claims.ID,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
		Note:    req.Note,
		Source:  source,
	}
	if err := s.ContactManager.Create(ctx, c); err != nil {
		s.Logger.Error("Unable to create contact",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot create the contact"))
		return
	}

	resp.WriteResponse(w, r, c)
}

func (s *Service) listContacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	before := r.URL.Query().Get("before")

	var parsedTime time.Time
	if before != "" {
		var err error
		parsedTime, err = time.Parse(time.RFC3339Nano, before)
		if err != nil {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid before param"))
			return
		}
	}

	results, err := s.ContactManager.List(ctx, ListOption{
		UserID: claims.ID,
		Before: parsedTime,
		Limit:  50,
	})
	if err != nil {
		s.Logger.Error("Unable to list contacts",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the list of contacts"))
		return
	}

	resp.WriteResponse(w, r, results)
}

func (s *Service) deleteContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	contactID := chi.URLParam(r, "id")

	c, err := s.ContactManager.GetByID(ctx, contactID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if c == nil || c.UserID != claims.ID {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find contact with specific ID"))
		return
	}

	if err := s.ContactManager.Delete(ctx, claims.ID, contactID); err != nil {
		s.Logger.Error("Unable to delete contact",
			zap.String("UserID", claims.ID),
			zap.String("ContactID", contactID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot delete the contact"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Router will return the routes under contact API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())

	r.Post("/", s.createContact)
	r.Get("/", s.listContacts)
	r.Delete("/{id}", s.deleteContact)

	return r
}
