package main

import (
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"net/smtp"
	"os"
	"time"

	"github.com/helixcard/helix/auth"
	"github.com/helixcard/helix/authz"
	"github.com/helixcard/helix/broker"
	"github.com/helixcard/helix/card"
	"github.com/helixcard/helix/contact"
	"github.com/helixcard/helix/coupon"
	"github.com/helixcard/helix/db"
	"github.com/helixcard/helix/entitlement"
	"github.com/helixcard/helix/external"
	"github.com/helixcard/helix/subscription"
	"github.com/helixcard/helix/user"
	"github.com/helixcard/helix/webhook"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot initialize zapsentry",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	plans, err := subscription.LoadPlansFromFile(os.Getenv("PLANS_JSON"))
	if err != nil {
		logger.Fatal("Cannot load plans",
			zap.Error(err),
		)
	}
	planIndex, err := subscription.NewPlanIndex(plans)
	if err != nil {
		logger.Fatal("Cannot index plans",
			zap.Error(err),
		)
	}

	couponConfig, err := coupon.LoadConfigFromFile(os.Getenv("COUPONS_JSON"))
	if err != nil {
		logger.Fatal("Cannot load coupon configurations",
			zap.Error(err),
		)
	}

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))

	dbInstance, err := db.New(logger, os.Getenv("POSTGRES_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	amqpBroker, err := broker.NewAMQPBroker(logger, os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Message Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	smtpAuth := smtp.PlainAuth("", os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"), os.Getenv("SMTP_HOST"))

	authManager, err := auth.New(auth.Options{
		Redis:  rdb,
		Logger: logger,

		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),

		Environment: authEnvironment,
		SMTPAuth:    smtpAuth,
		From:        os.Getenv("SMTP_FROM"),
		Hostname:    os.Getenv("SMTP_HOST") + ":" + os.Getenv("SMTP_PORT"),
		EmailOption: auth.EmailOption{
			Name: os.Getenv("SITE_NAME"),
			LinkGenerator: func(email, token string) string {
				return fmt.Sprintf("%s/login/%s/%s", os.Getenv("SITE_URL"), email, token)
			},
		},
	})
	if err != nil {
		logger.Fatal("Cannot initialize AuthManager",
			zap.Error(err),
		)
	}

	userManager, err := user.NewManager(logger, dbInstance)
	if err != nil {
		logger.Fatal("Cannot initialize UserManager",
			zap.Error(err),
		)
	}

	cardManager, err := card.NewManager(logger, dbInstance)
	if err != nil {
		logger.Fatal("Cannot initialize CardManager",
			zap.Error(err),
		)
	}

	contactManager, err := contact.NewManager(logger, dbInstance)
	if err != nil {
		logger.Fatal("Cannot initialize ContactManager",
			zap.Error(err),
		)
	}

	couponManager, err := coupon.NewManager(logger, dbInstance)
	if err != nil {
		logger.Fatal("Cannot initialize CouponManager",
			zap.Error(err),
		)
	}

	authzManager, err := authz.NewManager(logger, rdb)
	if err != nil {
		logger.Fatal("Cannot initialize AuthzManager",
			zap.Error(err),
		)
	}

	propagator, err := entitlement.NewPropagator(entitlement.PropagatorOptions{
		Authorizer: authzManager,
		Cards:      cardManager,
		Notifier:   amqpBroker,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize entitlement Propagator",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		StripeClient: stripeClient,
		Users:        userManager,
		Ledger:       couponManager,
		Plans:        planIndex,
		Coupons:      couponConfig,
		Propagator:   propagator,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	stripeResolver, err := webhook.NewStripeResolver(stripeClient)
	if err != nil {
		logger.Fatal("Cannot initialize StripeResolver",
			zap.Error(err),
		)
	}

	reconciler, err := webhook.NewReconciler(webhook.ReconcilerOptions{
		Users:      userManager,
		Ledger:     couponManager,
		Propagator: propagator,
		Gateway:    stripeResolver,
		Plans:      planIndex,
		Coupons:    couponConfig,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize webhook Reconciler",
			zap.Error(err),
		)
	}

	userRouter, err := user.NewService(user.ServiceOptions{
		Auth:        authManager,
		UserManager: userManager,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize User Service Router",
			zap.Error(err),
		)
	}

	cardRouter, err := card.NewService(card.ServiceOptions{
		Auth:        authManager,
		CardManager: cardManager,
		UserManager: userManager,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Card Service Router",
			zap.Error(err),
		)
	}

	contactRouter, err := contact.NewService(contact.ServiceOptions{
		Auth:           authManager,
		ContactManager: contactManager,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Contact Service Router",
			zap.Error(err),
		)
	}

	couponRouter, err := coupon.NewService(coupon.ServiceOptions{
		Auth:          authManager,
		CouponManager: couponManager,
		Verifier:      subscriptionManager,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Coupon Service Router",
			zap.Error(err),
		)
	}

	subscriptionRouter, err := subscription.NewService(subscription.ServiceOptions{
		SubscriptionManager: subscriptionManager,
		Auth:                authManager,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Subscription Service Router",
			zap.Error(err),
		)
	}

	webhookRouter, err := webhook.NewService(webhook.ServiceOptions{
		Reconciler:     reconciler,
		EndpointSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{os.Getenv("SITE_URL")},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rootRouter.Mount("/users", userRouter.Router())
	rootRouter.Mount("/cards", cardRouter.Router())
	rootRouter.Mount("/contacts", contactRouter.Router())
	rootRouter.Mount("/coupons", couponRouter.Router())
	rootRouter.Mount("/subscriptions", subscriptionRouter.Router())
	rootRouter.Mount("/webhook", webhookRouter.Router())

	rootRouter.HandleFunc("/pprof/*", pprof.Index)
	rootRouter.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	rootRouter.HandleFunc("/pprof/profile", pprof.Profile)
	rootRouter.HandleFunc("/pprof/symbol", pprof.Symbol)
	rootRouter.HandleFunc("/pprof/trace", pprof.Trace)

	rootRouter.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, os.Getenv("SITE_URL"), http.StatusFound)
	})

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    ":" + os.Getenv("API_PORT"),
	}

	logger.Fatal("API server exited",
		zap.Error(srv.ListenAndServe()),
	)
}
