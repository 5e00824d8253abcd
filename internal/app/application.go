package app

import (
	"context"
	"fmt"
	"time"

	"github.com/merryworks/magicledger/internal/app/auth"
	"github.com/merryworks/magicledger/internal/app/jobs"
	childrensvc "github.com/merryworks/magicledger/internal/app/services/children"
	giftssvc "github.com/merryworks/magicledger/internal/app/services/gifts"
	parentssvc "github.com/merryworks/magicledger/internal/app/services/parents"
	paymentssvc "github.com/merryworks/magicledger/internal/app/services/payments"
	votessvc "github.com/merryworks/magicledger/internal/app/services/votes"
	"github.com/merryworks/magicledger/internal/app/storage"
	"github.com/merryworks/magicledger/internal/app/storage/memory"
	"github.com/merryworks/magicledger/internal/app/system"
	"github.com/merryworks/magicledger/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to a
// shared in-memory implementation.
type Stores struct {
	Parents  storage.ParentStore
	Children storage.ChildStore
	Votes    storage.VoteStore
	Gifts    storage.GiftStore
}

// Options tunes the application beyond its storage wiring.
type Options struct {
	// AuthSecret signs session tokens. Required.
	AuthSecret string
	// TokenTTL bounds session lifetime. Zero defaults to 24h.
	TokenTTL time.Duration
	// Deliveries deduplicates payment webhook deliveries. Nil defaults to
	// the in-memory registry.
	Deliveries paymentssvc.Registry
	// PendingMaxAge is how long a pending entry may wait for confirmation
	// before the expiry poller fails it. Zero defaults to 30 minutes.
	PendingMaxAge time.Duration
	// ExpiryInterval is the poller tick. Zero defaults to one minute.
	ExpiryInterval time.Duration
	// ReconcileSchedule is the cron spec of the nightly reconciliation.
	// Empty defaults to jobs.DefaultSchedule.
	ReconcileSchedule string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Auth     *auth.Manager
	Parents  *parentssvc.Service
	Children *childrensvc.Service
	Votes    *votessvc.Service
	Payments *paymentssvc.Service
	Gifts    *giftssvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Parents == nil {
		stores.Parents = mem
	}
	if stores.Children == nil {
		stores.Children = mem
	}
	if stores.Votes == nil {
		stores.Votes = mem
	}
	if stores.Gifts == nil {
		stores.Gifts = mem
	}

	tokens, err := auth.NewManager(opts.AuthSecret, opts.TokenTTL)
	if err != nil {
		return nil, err
	}

	manager := system.NewManager()

	parentService := parentssvc.New(stores.Parents, tokens, log)
	childService := childrensvc.New(stores.Children, log)
	voteService := votessvc.New(stores.Children, stores.Votes, log)
	paymentService := paymentssvc.New(stores.Parents, stores.Children, opts.Deliveries, log)
	giftService := giftssvc.New(stores.Gifts, stores.Children, stores.Parents, log)

	expiry := paymentssvc.NewExpiryPoller(stores.Parents, stores.Children, paymentService, nil, opts.ExpiryInterval, opts.PendingMaxAge, log)
	reconciler := jobs.NewReconciler(stores.Parents, stores.Children, opts.ReconcileSchedule, log)

	for _, svc := range []system.Service{expiry, reconciler} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:  manager,
		log:      log,
		Auth:     tokens,
		Parents:  parentService,
		Children: childService,
		Votes:    voteService,
		Payments: paymentService,
		Gifts:    giftService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
