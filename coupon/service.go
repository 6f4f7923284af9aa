package coupon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/helixcard/helix/auth"
	resp "github.com/helixcard/helix/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// Verifier validates a coupon against a plan and computes the discounted
// amount. Implemented by the subscription orchestrator
type Verifier interface {
	VerifyCoupon(ctx context.Context, code, priceID string) (int64, error)
	UserError(err error) (string, bool)
}

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Auth          *auth.Auth
	CouponManager *Manager
	Verifier      Verifier
	Logger        *zap.Logger
}

// Service is the coupon API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the coupon API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.CouponManager == nil {
		return nil, fmt.Errorf("nil CouponManager is invalid")
	}
	if option.Verifier == nil {
		return nil, fmt.Errorf("nil Verifier is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// VerifyRequest is the model of the coupon verification request
type VerifyRequest struct {
	CouponCode string `json:"couponCode"`
	PriceID    string `json:"priceId"`
}

func (s *Service) verifyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if len(req.CouponCode) == 0 || len(req.PriceID) == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("couponCode and priceId are required"))
		return
	}

	amount, err := s.Verifier.VerifyCoupon(ctx, req.CouponCode, req.PriceID)
	if err != nil {
		if msg, ok := s.Verifier.UserError(err); ok {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(msg))
			return
		}
		s.Logger.Error("Unable to verify coupon",
			zap.String("CouponCode", req.CouponCode),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot verify the coupon"))
		return
	}

	resp.WriteResponse(w, r, struct {
		DiscountedAmount int64 `json:"discountedAmount"`
	}{
		DiscountedAmount: amount,
	})
}

func (s *Service) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")

	stats, err := s.CouponManager.GetStats(ctx, code)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get coupon stats"))
		return
	}
	if stats == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Coupon has never been redeemed"))
		return
	}

	resp.WriteResponse(w, r, stats)
}

func (s *Service) listRedemptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")

	results, err := s.CouponManager.ListRedemptions(ctx, code)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot list coupon redemptions"))
		return
	}

	resp.WriteResponse(w, r, results)
}

// Router will return the routes under coupon API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/verify", s.verifyCoupon)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware())
		r.Use(s.Auth.AdminCheck())
		r.Get("/{code}/stats", s.getStats)
		r.Get("/{code}/redemptions", s.listRedemptions)
	})

	return r
}
