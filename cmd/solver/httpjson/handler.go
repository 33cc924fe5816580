package httpjson

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/speedrun-hq/settler/db"
	web "github.com/speedrun-hq/settler/http"
	"github.com/speedrun-hq/settler/logging"
	"github.com/speedrun-hq/settler/metrics"
)

type handler struct {
	*gin.Engine

	deps   Dependencies
	logger zerolog.Logger
}

type Config struct {
	Dependencies

	Addr           string
	AllowedOrigins []string
	LogRequests    bool

	Logger zerolog.Logger
}

type Dependencies struct {
	Journal db.Journal
	Signer  SignerState
	Metrics *metrics.Service
}

// SignerState is the read-only view of the solver account. Implemented by signer.NonceKeeper.
type SignerState interface {
	Address() common.Address
	Chains() []uint64
	Next(chainID uint64) (uint64, bool)
}

const (
	requestTimeout = 10 * time.Second
	rwTimeout      = 15 * time.Second
	maxPageSize    = 100
)

var (
	ErrNotFound      = errors.New("not found")
	ErrParamRequired = errors.New("param required")
)

func New(cfg Config) *http.Server {
	return &http.Server{
		Addr:    cfg.Addr,
		Handler: newHandler(cfg, gin.New()),

		// Time to read the request headers/body
		ReadTimeout: rwTimeout,

		// Time to write the response
		WriteTimeout: rwTimeout,

		// Time to keep connections alive
		IdleTimeout: 60 * time.Second,

		// Max header bytes (1MB)
		MaxHeaderBytes: 1024 * 1024,
	}
}

func newHandler(cfg Config, router *gin.Engine) *handler {
	h := &handler{
		Engine: router,
		deps:   cfg.Dependencies,
		logger: cfg.Logger.With().Str(logging.FieldModule, "api").Logger(),
	}

	logLevel := zerolog.DebugLevel
	if cfg.LogRequests {
		logLevel = zerolog.InfoLevel
	}

	h.Use(
		gin.Recovery(),
		web.Zerolog(cfg.Logger, logLevel),
		web.Timeout(requestTimeout),
		web.CORS(cfg.AllowedOrigins),
	)

	h.setupAPIRoutes()
	h.setupObservabilityRoutes()

	return h
}

func (h *handler) setupAPIRoutes() {
	v1 := h.Group("/api/v1")

	h.setupFillRoutes(v1)

	v1.GET("/signer", h.getSigner)
}

func (h *handler) setupObservabilityRoutes() {
	h.GET("/health", h.getHealthCheck)

	if h.deps.Metrics != nil {
		h.GET("/metrics", gin.WrapH(h.deps.Metrics.GetHandler()))

		// summary endpoint for debugging
		h.GET("/api/v1/metrics", h.getMetricsSummary)
	}
}

func (h *handler) getHealthCheck(c *gin.Context) {
	if h.deps.Journal != nil {
		if err := h.deps.Journal.Ping(c.Request.Context()); err != nil {
			h.logger.Warn().Err(err).Msg("Journal ping failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) getMetricsSummary(c *gin.Context) {
	summary := h.deps.Metrics.GetMetricsSummary()
	c.JSON(http.StatusOK, summary)
}

type paginationParams struct {
	Page     int
	PageSize int
}

var errPageSize = errors.Errorf("invalid page_size parameter (must be between 1 and %d)", maxPageSize)

func resolvePagination(c *gin.Context) (paginationParams, error) {
	var (
		pageRaw     = c.DefaultQuery("page", "1")
		pageSizeRaw = c.DefaultQuery("page_size", "20")
	)

	page, err := strconv.Atoi(pageRaw)
	if err != nil || page < 1 {
		return paginationParams{}, errors.New("invalid page parameter")
	}

	pageSize, err := strconv.Atoi(pageSizeRaw)
	if err != nil || pageSize < 1 || pageSize > maxPageSize {
		return paginationParams{}, errPageSize
	}

	return paginationParams{
		Page:     page,
		PageSize: pageSize,
	}, nil
}
