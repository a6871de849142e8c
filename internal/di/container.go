package di

import (
	"context"
	"errors"
	"time"

	"github.com/auric-commerce/api/internal/payments"
	"github.com/auric-commerce/api/internal/platform/config"
	"github.com/auric-commerce/api/internal/repositories"
	"github.com/auric-commerce/api/internal/services"
)

// Repositories bundles the persistence contracts the services are built on.
type Repositories struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Stock    repositories.StockRepository
	Orders   repositories.OrderRepository
	Counters repositories.CounterRepository
	Health   repositories.HealthRepository
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Catalog  services.CatalogService
	Cart     services.CartService
	Stock    services.StockService
	Counters services.CounterService
	Orders   services.OrderService
	Payments services.PaymentCallbackService
	System   services.SystemService
}

// ContainerDeps carries everything NewContainer needs to assemble the service layer.
// Gateways and Events are optional; orders then run COD-only and event publishing
// is skipped.
type ContainerDeps struct {
	Config       config.Config
	Repositories Repositories
	Gateways     *payments.Manager
	Events       services.EventPublisher
	Build        services.BuildInfo
	Clock        func() time.Time
	Logger       func(ctx context.Context, msg string, fields map[string]any)
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config   config.Config
	Services Services
}

// NewContainer constructs the runtime service graph. Construction order follows
// the dependency chain: catalog feeds cart and stock, both feed orders, and the
// payment callback service settles orders placed through a gateway.
func NewContainer(deps ContainerDeps) (*Container, error) {
	repos := deps.Repositories
	if repos.Carts == nil || repos.Products == nil || repos.Stock == nil ||
		repos.Orders == nil || repos.Counters == nil {
		return nil, errors.New("di: all repositories are required")
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: repos.Products,
		Logger:   deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:   repos.Carts,
		Catalog: catalogSvc,
		Clock:   deps.Clock,
		Logger:  deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	stockEvents := deps.Events
	if !deps.Config.Features.EnableStockAlerts {
		stockEvents = nil
	}
	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Stock:    repos.Stock,
		Products: repos.Products,
		Catalog:  catalogSvc,
		Events:   stockEvents,
		Clock:    deps.Clock,
		Logger:   deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: repos.Counters,
		Clock:      deps.Clock,
	})
	if err != nil {
		return nil, err
	}

	orderDeps := services.OrderServiceDeps{
		Orders:          repos.Orders,
		Cart:            cartSvc,
		Catalog:         catalogSvc,
		Stock:           stockSvc,
		Counter:         counterSvc,
		Events:          deps.Events,
		DefaultCurrency: deps.Config.Checkout.DefaultCurrency,
		Clock:           deps.Clock,
		Logger:          deps.Logger,
	}
	if deps.Gateways != nil {
		orderDeps.Payments = deps.Gateways
	}
	orderSvc, err := services.NewOrderService(orderDeps)
	if err != nil {
		return nil, err
	}

	svc := Services{
		Catalog:  catalogSvc,
		Cart:     cartSvc,
		Stock:    stockSvc,
		Counters: counterSvc,
		Orders:   orderSvc,
	}

	if deps.Gateways != nil {
		paymentSvc, err := services.NewPaymentCallbackService(services.PaymentCallbackServiceDeps{
			Orders:   repos.Orders,
			Stock:    stockSvc,
			Payments: deps.Gateways,
			Events:   deps.Events,
			Clock:    deps.Clock,
			Logger:   deps.Logger,
		})
		if err != nil {
			return nil, err
		}
		svc.Payments = paymentSvc
	}

	if repos.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: repos.Health,
			Clock:            deps.Clock,
			Build:            deps.Build,
		})
		if err != nil {
			return nil, err
		}
		svc.System = systemSvc
	}

	return &Container{
		Config:   deps.Config,
		Services: svc,
	}, nil
}
