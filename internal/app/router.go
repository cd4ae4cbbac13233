package app

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/repairdesk/repairdesk/internal/audit"
	"github.com/repairdesk/repairdesk/internal/billing"
	"github.com/repairdesk/repairdesk/internal/inventory"
	"github.com/repairdesk/repairdesk/internal/observability"
	"github.com/repairdesk/repairdesk/internal/platform/httpx"
	"github.com/repairdesk/repairdesk/internal/procurement"
	"github.com/repairdesk/repairdesk/internal/repair"
	"github.com/repairdesk/repairdesk/internal/users"
	"github.com/repairdesk/repairdesk/jobs"
)

// HealthCheck probes a dependency for /readyz.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	InventoryHandler   *inventory.Handler
	BillingHandler     *billing.Handler
	RepairHandler      *repair.Handler
	ProcurementHandler *procurement.Handler
	UsersHandler       *users.Handler
	AuditHandler       *audit.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	Checks             map[string]HealthCheck
}

// NewRouter constructs the chi.Router with repairdesk defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(params.Checks))

	if params.InventoryHandler != nil {
		r.Route("/stock", params.InventoryHandler.MountRoutes)
	}
	if params.BillingHandler != nil {
		r.Route("/bills", params.BillingHandler.MountRoutes)
	}
	if params.RepairHandler != nil {
		r.Route("/jobs", params.RepairHandler.MountRoutes)
		r.Route("/jobs-edit", params.RepairHandler.MountEditRoutes)
		r.Route("/customers", params.RepairHandler.MountCustomerRoutes)
	}
	if params.ProcurementHandler != nil {
		r.Route("/grn", params.ProcurementHandler.MountRoutes)
		r.Route("/suppliers", params.ProcurementHandler.MountSupplierRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/queue", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

func readiness(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		results := make([]string, len(names))
		g, gctx := errgroup.WithContext(ctx)
		for i, name := range names {
			check := checks[name]
			g.Go(func() error {
				if err := check(gctx); err != nil {
					results[i] = err.Error()
					return err
				}
				results[i] = "ok"
				return nil
			})
		}
		failed := g.Wait() != nil

		body := make(map[string]string, len(names))
		for i, name := range names {
			if results[i] == "" {
				results[i] = "skipped"
			}
			body[name] = results[i]
		}
		status := http.StatusOK
		if failed {
			status = http.StatusServiceUnavailable
		}
		httpx.JSON(w, status, body)
	}
}
