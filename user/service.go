package user

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/helixcard/helix/auth"
	resp "github.com/helixcard/helix/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Auth        *auth.Auth
	UserManager *Manager
	Logger      *zap.Logger
}

// Service is the user API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the user API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
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

// LoginRequest is the model of user request for login token
type LoginRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Service) requestLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	logger := s.Logger.With(zap.String("Email", req.Email))

	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("A valid email address is required"))
		return
	}

	if err := s.Auth.Request(r.Context(), req.Email, req.Email); err != nil {
		logger.Error("Unable to send login token",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to send login token"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email := chi.URLParam(r, "email")
	token := chi.URLParam(r, "token")

	logger := s.Logger.With(zap.String("Email", email))

	valid, err := s.Auth.Verify(ctx, email, token)
	if err != nil {
		logger.Error("Unable to verify login token",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrVerifyToken())
		return
	}

	if !valid {
		resp.WriteError(w, r, resp.ErrUnauthorized())
		return
	}

	// "upsert" a user on first login
	u, err := s.UserManager.GetByEmail(ctx, email)
	if err != nil {
		logger.Error("Unable to look up User",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	if u == nil {
		u = &User{
			ID:    uuid.New().String(),
			Email: email,
		}
		if err := s.UserManager.Create(ctx, u); err != nil {
			logger.Error("Unable to create User",
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrUnexpected())
			return
		}
	}

	jwtToken, err := s.Auth.CreateTokenFromClaims(auth.Claims{
		ID:    u.ID,
		Email: u.Email,
	})
	if err != nil {
		logger.Error("Unable to generate token",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, struct {
		Token string `json:"token"`
	}{
		Token: jwtToken,
	})
}

func (s *Service) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	u, err := s.UserManager.GetByID(ctx, claims.ID)
	if err != nil {
		s.Logger.Error("Unable to query user",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the user profile"))
		return
	}
	if u == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No profile found"))
		return
	}

	resp.WriteResponse(w, r, u)
}

// ProfileUpdateRequest is the model of the profile update request
type ProfileUpdateRequest struct {
	Name     string `json:"name" validate:"max=128"`
	Username string `json:"username" validate:"omitempty,alphanum,min=3,max=32"`
}

func (s *Service) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	var req ProfileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid profile fields"))
		return
	}

	if len(req.Username) > 0 {
		existing, err := s.UserManager.GetByUsername(ctx, req.Username)
		if err != nil {
			resp.WriteError(w, r, resp.ErrUnexpected())
			return
		}
		if existing != nil && existing.ID != claims.ID {
			resp.WriteError(w, r, resp.ErrConflict().AddMessages("Username is already taken"))
			return
		}
	}

	if err := s.UserManager.UpdateProfile(ctx, claims.ID, req.Name, req.Username); err != nil {
		s.Logger.Error("Unable to update profile",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot update the user profile"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Router will return the routes under user API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/login", s.requestLogin)
	r.Get("/login/{email}/{token}", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware())
		r.Get("/me", s.getProfile)
		r.Put("/me", s.updateProfile)
	})

	return r
}
