package httpjson

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/speedrun-hq/settler/db"
	web "github.com/speedrun-hq/settler/http"
	"github.com/speedrun-hq/settler/models"
)

func (h *handler) setupFillRoutes(rg *gin.RouterGroup) {
	rg.GET("/fills", h.listFills)
	rg.GET("/fills/:id", h.getFill)
	rg.GET("/intents/:hash/fills", h.listIntentFills)
}

func (h *handler) listFills(c *gin.Context) {
	ctx := c.Request.Context()

	pag, err := resolvePagination(c)
	if err != nil {
		web.ErrBadRequest(c, err)
		return
	}

	status := c.Query("status")

	switch models.FillStatus(status) {
	case "", models.FillStatusPending, models.FillStatusSubmitted, models.FillStatusFailed:
	default:
		web.ErrBadRequest(c, errors.Errorf("invalid status %q", status))
		return
	}

	fills, totalCount, err := h.deps.Journal.ListFills(ctx, pag.Page, pag.PageSize, status)
	if err != nil {
		web.ErrInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.PaginatedResponse{
		Data:       fillResponses(fills),
		Page:       pag.Page,
		PageSize:   pag.PageSize,
		TotalCount: totalCount,
	})
}

func (h *handler) getFill(c *gin.Context) {
	ctx := c.Request.Context()

	raw := c.Param("id")
	if raw == "" {
		web.ErrBadRequest(c, errors.Wrap(ErrParamRequired, "fill id"))
		return
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		web.ErrBadRequest(c, errors.Wrap(err, "invalid fill id"))
		return
	}

	fill, err := h.deps.Journal.GetFill(ctx, id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		web.ErrNotFound(c, errors.Wrap(ErrNotFound, "fill"))
		return
	case err != nil:
		web.ErrInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, fill.ToResponse())
}

func (h *handler) listIntentFills(c *gin.Context) {
	ctx := c.Request.Context()

	raw := c.Param("hash")

	hash, err := hexutil.Decode(raw)
	if err != nil || len(hash) != common.HashLength {
		web.ErrBadRequest(c, errors.Errorf("invalid intent hash %q", raw))
		return
	}

	fills, err := h.deps.Journal.ListFillsByIntent(ctx, common.BytesToHash(hash))
	if err != nil {
		web.ErrInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, fillResponses(fills))
}

func (h *handler) getSigner(c *gin.Context) {
	if h.deps.Signer == nil {
		web.ErrNotFound(c, errors.Wrap(ErrNotFound, "signer"))
		return
	}

	res := models.SignerResponse{
		Address: h.deps.Signer.Address().Hex(),
		Nonces:  make(map[string]uint64),
	}

	for _, chainID := range h.deps.Signer.Chains() {
		if next, ok := h.deps.Signer.Next(chainID); ok {
			res.Nonces[strconv.FormatUint(chainID, 10)] = next
		}
	}

	c.JSON(http.StatusOK, res)
}

func fillResponses(fills []*models.Fill) []*models.FillResponse {
	res := make([]*models.FillResponse, 0, len(fills))
	for _, f := range fills {
		res = append(res, f.ToResponse())
	}

	return res
}
