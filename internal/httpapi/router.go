package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dialix-pipeline/internal/config"
	"dialix-pipeline/internal/dispatch"
	"dialix-pipeline/internal/estimate"
	"dialix-pipeline/internal/intervalcache"
	"dialix-pipeline/internal/models"
	"dialix-pipeline/internal/storage"
)

type Estimator interface {
	Estimate(ctx context.Context, ownerID string, items []estimate.Item) (estimate.Report, error)
	Admit(ctx context.Context, ownerID string, items []estimate.Item) (estimate.Report, []estimate.Admitted, error)
}

type Dispatcher interface {
	ValidateChecklists(ctx context.Context, ownerID string, ids []*string) error
	Dispatch(ctx context.Context, ownerID, company string, uploads []dispatch.Upload) ([]dispatch.Submission, error)
	Reprocess(ctx context.Context, ownerID string, req dispatch.ReprocessRequest) (dispatch.Submission, error)
}

type CallSyncer interface {
	Sync(ctx context.Context, ownerID string, req intervalcache.Range) ([]models.IntervalRecord, error)
}

type RecordGetter interface {
	GetRecord(ctx context.Context, id, ownerID string) (models.Record, error)
}

type URLSigner interface {
	SignedStreamURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the HTTP API.
type Deps struct {
	DB         Pinger
	Estimator  Estimator
	Dispatcher Dispatcher
	Calls      CallSyncer
	Records    RecordGetter
	Blobs      URLSigner
	Staging    storage.Staging
	// LocalBlobs, when set, is served under /blobs for its signed URLs.
	LocalBlobs *storage.LocalGateway
	// ExportLocation is the zone export stamps are rendered in.
	ExportLocation *time.Location
}

func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware)
	r.Use(RecoverMiddleware)

	r.Get("/health", HealthHandler(deps.DB))
	r.Get("/version", VersionHandler())
	if deps.LocalBlobs != nil {
		r.Get("/blobs/*", BlobHandler(deps.LocalBlobs))
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(APIKeyAuth(cfg))
		api.Use(RequireOwner)

		api.Post("/estimate", EstimateHandler(deps))
		api.Post("/analyze", AnalyzeHandler(deps))
		api.Post("/reprocess", ReprocessHandler(deps))
		api.Get("/records/{id}/audio", RecordAudioHandler(deps))
		api.Get("/pbx/calls", CallsHandler(deps))
		api.Get("/pbx/calls/export", CallsExportHandler(deps))
	})

	return r
}
