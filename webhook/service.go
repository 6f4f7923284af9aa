package webhook

import (
	"fmt"
	"io/ioutil"
	"net/http"

	resp "github.com/helixcard/helix/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// maxBodyBytes bounds the request body read, per Stripe's endpoint guidance
const maxBodyBytes = int64(65536)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Reconciler     *Reconciler
	EndpointSecret string
	Logger         *zap.Logger
}

// Service is the webhook endpoint router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the webhook endpoint router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Reconciler == nil {
		return nil, fmt.Errorf("nil Reconciler is invalid")
	}
	if len(option.EndpointSecret) == 0 {
		return nil, fmt.Errorf("empty EndpointSecret is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) receiveEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := ioutil.ReadAll(r.Body)
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot read request body"))
		return
	}

	event, err := Decode(payload, r.Header.Get("Stripe-Signature"), s.EndpointSecret)
	if err != nil {
		s.Logger.Info("Rejecting webhook delivery",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrInvalidSignature())
		return
	}

	result, err := s.Reconciler.Handle(ctx, event)
	if err != nil {
		s.Logger.Error("Unable to reconcile webhook event",
			zap.String("EventID", event.ID),
			zap.String("Kind", string(event.Kind)),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot process event"))
		return
	}
	for _, nonFatal := range result.NonFatal {
		s.Logger.Error("Side effect failed while reconciling webhook event",
			zap.String("EventID", event.ID),
			zap.String("Kind", string(event.Kind)),
			zap.Error(nonFatal),
		)
	}

	resp.WriteResponse(w, r, struct {
		Received bool `json:"received"`
	}{
		Received: true,
	})
}

// Router will return the routes under the webhook endpoint
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.receiveEvent)

	return r
}
