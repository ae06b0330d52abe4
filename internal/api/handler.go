package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"marketdata/internal/batch"
	"marketdata/internal/events"
	"marketdata/internal/market"
	"marketdata/internal/provider"
	"marketdata/internal/quotecache"
)

const defaultVolumeDays = 30

// Service is the market-data core as used by the HTTP facade.
type Service interface {
	GetQuote(ctx context.Context, symbol string) (provider.Quote, error)
	GetBatchQuotes(ctx context.Context, symbols []string) batch.QuoteResult
	GetDailyVolumeData(ctx context.Context, symbol string, days int) (provider.VolumeSummary, error)
	GetBatchDailyVolumeData(ctx context.Context, symbols []string, days int) batch.VolumeResult
	UpdateSubscriptions(ctx context.Context, symbols []string) error
	RefreshIncremental(ctx context.Context, symbols []string) batch.QuoteResult
	Universe() []string
	Snapshot() quotecache.Snapshot
	GetOverview(ctx context.Context, symbol string) market.Overview
	GetProfile(ctx context.Context, symbol string) (provider.Profile, error)
	SearchSymbols(ctx context.Context, query string) ([]provider.SearchMatch, error)
	Hub() *events.Hub
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Res{Success: true, Data: data})
}

func (h *Handler) Health(c *gin.Context) {
	success(c, gin.H{"status": "ok"})
}

func (h *Handler) GetQuote(c *gin.Context) {
	var q SymbolQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(err)
		return
	}
	if strings.TrimSpace(q.Symbol) == "" {
		_ = c.Error(badRequest("symbol must not be blank"))
		return
	}
	quote, err := h.svc.GetQuote(c.Request.Context(), q.Symbol)
	if err != nil {
		_ = c.Error(err)
		return
	}
	success(c, quote)
}

func (h *Handler) GetQuotes(c *gin.Context) {
	var req SymbolsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	success(c, quotesRes(h.svc.GetBatchQuotes(c.Request.Context(), req.Symbols)))
}

func (h *Handler) GetVolume(c *gin.Context) {
	var q VolumeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(err)
		return
	}
	if q.Days == 0 {
		q.Days = defaultVolumeDays
	}
	v, err := h.svc.GetDailyVolumeData(c.Request.Context(), q.Symbol, q.Days)
	if err != nil {
		_ = c.Error(err)
		return
	}
	success(c, v)
}

func (h *Handler) GetVolumes(c *gin.Context) {
	var req VolumesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	if req.Days == 0 {
		req.Days = defaultVolumeDays
	}
	success(c, volumesRes(h.svc.GetBatchDailyVolumeData(c.Request.Context(), req.Symbols, req.Days)))
}

func (h *Handler) PutSubscriptions(c *gin.Context) {
	var req SubscriptionsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	ctx := c.Request.Context()
	before := h.svc.Universe()
	if err := h.svc.UpdateSubscriptions(ctx, req.Symbols); err != nil {
		_ = c.Error(err)
		return
	}
	universe := h.svc.Universe()
	// symbols new to the universe are fetched now rather than on the next refresh
	added := newSymbols(before, universe)
	res := SubscriptionsRes{Symbols: universe}
	if len(added) > 0 {
		refreshed := quotesRes(h.svc.RefreshIncremental(ctx, added))
		res.Refreshed = &refreshed
	}
	success(c, res)
}

func newSymbols(before, after []string) []string {
	seen := make(map[string]struct{}, len(before))
	for _, s := range before {
		seen[s] = struct{}{}
	}
	var out []string
	for _, s := range after {
		if _, ok := seen[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func (h *Handler) GetSnapshot(c *gin.Context) {
	success(c, h.svc.Snapshot())
}

func (h *Handler) GetFundamentals(c *gin.Context) {
	var q SymbolQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(err)
		return
	}
	success(c, h.svc.GetOverview(c.Request.Context(), q.Symbol))
}

func (h *Handler) GetProfile(c *gin.Context) {
	var q SymbolQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(err)
		return
	}
	p, err := h.svc.GetProfile(c.Request.Context(), q.Symbol)
	if err != nil {
		_ = c.Error(err)
		return
	}
	success(c, p)
}

func (h *Handler) Search(c *gin.Context) {
	var q SearchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(err)
		return
	}
	matches, err := h.svc.SearchSymbols(c.Request.Context(), q.Q)
	if err != nil {
		_ = c.Error(err)
		return
	}
	success(c, matches)
}
