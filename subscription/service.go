package subscription

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/helixcard/helix/auth"
	resp "github.com/helixcard/helix/response"

	"github.com/go-chi/chi"
	validator "github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	SubscriptionManager *Manager
	Auth                *auth.Auth
	Logger              *zap.Logger
}

// Service is the subscription API router
type Service struct {
	ServiceOptions
	validator *validator.Validate
}

// NewService will create an instance of the subscription API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
		validator:      validator.New(),
	}, nil
}

// CreateRequest is the model of the subscription creation request
type CreateRequest struct {
	PriceID         string `json:"priceId" validate:"required"`
	CouponCode      string `json:"couponCode" validate:"omitempty,alphanum"`
	PaymentMethodID string `json:"paymentMethodId" validate:"required_unless=FreeLifetime true"`
	FreeLifetime    bool   `json:"freeLifetime"`
	Source          string `json:"source" validate:"omitempty,alphanum"`
}

func (s *Service) createSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validator.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid request"))
		return
	}

	result, err := s.SubscriptionManager.Create(ctx, CreateOptions{
		UserID:          claims.ID,
		Email:           claims.Email,
		PriceID:         req.PriceID,
		CouponCode:      req.CouponCode,
		PaymentMethodID: req.PaymentMethodID,
		FreeLifetime:    req.FreeLifetime,
		Source:          req.Source,
	})
	if err != nil {
		if err == ErrUserNotFound {
			resp.WriteError(w, r, resp.ErrNotFound().AddMessages("User does not exist"))
			return
		}
		if msg, ok := s.SubscriptionManager.UserError(err); ok {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(msg))
			return
		}
		s.Logger.Error("Unable to create subscription",
			zap.String("UserID", claims.ID),
			zap.String("PriceID", req.PriceID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot create subscription"))
		return
	}

	resp.WriteResponse(w, r, result)
}

func (s *Service) listPlans(w http.ResponseWriter, r *http.Request) {
	resp.WriteResponse(w, r, s.SubscriptionManager.Plans.ListDefinedPlans())
}

func (s *Service) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	subID := chi.URLParam(r, "id")

	if err := s.SubscriptionManager.Cancel(ctx, claims.ID, subID); err != nil {
		if err == ErrUserNotFound {
			resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Subscription does not exist"))
			return
		}
		s.Logger.Error("Unable to cancel subscription",
			zap.String("UserID", claims.ID),
			zap.String("SubscriptionID", subID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot cancel subscription"))
		return
	}

	resp.WriteResponse(w, r, struct {
		Canceled bool `json:"canceled"`
	}{
		Canceled: true,
	})
}

// Router will return the routes under subscription API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/plans", s.listPlans)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware())
		r.Post("/", s.createSubscription)
		r.Delete("/{id}", s.cancelSubscription)
	})

	return r
}
