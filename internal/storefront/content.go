package storefront

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/edu-storefront/internal/envelope"
	"finitefield.org/edu-storefront/internal/i18n"
	"finitefield.org/edu-storefront/internal/platform/httpx"
	"finitefield.org/edu-storefront/internal/platform/requestctx"
	"finitefield.org/edu-storefront/internal/record"
)

type categoryView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

type seriesView struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	DescriptionHTML string `json:"descriptionHtml,omitempty"`
	ImageURL        string `json:"imageUrl,omitempty"`
	VideoCount      int    `json:"videoCount,omitempty"`
}

type videoView struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	VideoURL     string `json:"videoUrl,omitempty"`
	PDFURL       string `json:"pdfUrl,omitempty"`
	Duration     int    `json:"duration,omitempty"`
	IsFree       bool   `json:"isFree"`
}

type listResponse[T any] struct {
	Items   []T                `json:"items"`
	Page    *envelope.PageMeta `json:"page,omitempty"`
	HasMore bool               `json:"hasMore"`
}

func (s *Server) contentRoutes(r chi.Router) {
	r.Get("/categories", s.listCategories)
	r.Get("/categories/{id}/series", s.listSeries)
	r.Get("/series/{id}/videos", s.listVideos)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.content == nil {
		s.writeMessage(ctx, w, http.StatusServiceUnavailable, "content.load_failed", nil)
		return
	}
	raw, err := s.content.Categories(ctx)
	if err != nil {
		requestctx.Logger(ctx).Warn("categories fetch failed", zap.Error(err))
		s.writeMessage(ctx, w, http.StatusBadGateway, "content.load_failed", nil)
		return
	}
	res := envelope.Normalize(raw)
	envelope.SortEntities(res.Items)

	loc := i18n.NewLocalizer(requestctx.Locale(ctx))
	items := make([]categoryView, 0, len(res.Items))
	for _, rec := range res.Items {
		items = append(items, categoryView{
			ID:          rec.ID(),
			Name:        loc.Field(rec, "name"),
			Description: loc.Field(rec, "description"),
			ImageURL:    s.resources.Field(rec, "image", "image_url", "imageUrl"),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse[categoryView]{Items: items, Page: res.Page, HasMore: res.HasMore()})
}

func (s *Server) listSeries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.content == nil {
		s.writeMessage(ctx, w, http.StatusServiceUnavailable, "content.load_failed", nil)
		return
	}
	categoryID := strings.TrimSpace(chi.URLParam(r, "id"))
	page := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page must be a positive integer", http.StatusBadRequest))
			return
		}
		page = parsed
	}

	raw, err := s.content.Series(ctx, categoryID, page)
	if err != nil {
		requestctx.Logger(ctx).Warn("series fetch failed", zap.String("category_id", categoryID), zap.Error(err))
		s.writeMessage(ctx, w, http.StatusBadGateway, "content.load_failed", nil)
		return
	}
	res := envelope.Normalize(raw)
	envelope.SortEntities(res.Items)

	loc := i18n.NewLocalizer(requestctx.Locale(ctx))
	items := make([]seriesView, 0, len(res.Items))
	for _, rec := range res.Items {
		description := loc.Field(rec, "description")
		items = append(items, seriesView{
			ID:              rec.ID(),
			Title:           loc.Field(rec, "title"),
			Description:     description,
			DescriptionHTML: s.renderHTML(r, description),
			ImageURL:        s.resources.Field(rec, "image", "image_url", "imageUrl", "thumbnail"),
			VideoCount:      intField(rec, "videos_count", "videosCount"),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse[seriesView]{Items: items, Page: res.Page, HasMore: res.HasMore()})
}

func (s *Server) listVideos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.content == nil {
		s.writeMessage(ctx, w, http.StatusServiceUnavailable, "content.load_failed", nil)
		return
	}
	seriesID := strings.TrimSpace(chi.URLParam(r, "id"))
	raw, err := s.content.Videos(ctx, seriesID)
	if err != nil {
		requestctx.Logger(ctx).Warn("videos fetch failed", zap.String("series_id", seriesID), zap.Error(err))
		s.writeMessage(ctx, w, http.StatusBadGateway, "content.load_failed", nil)
		return
	}
	res := envelope.Normalize(raw)
	envelope.SortEntities(res.Items)

	loc := i18n.NewLocalizer(requestctx.Locale(ctx))
	items := make([]videoView, 0, len(res.Items))
	for _, rec := range res.Items {
		items = append(items, videoView{
			ID:           rec.ID(),
			Title:        loc.Field(rec, "title"),
			Description:  loc.Field(rec, "description"),
			ThumbnailURL: s.resources.Field(rec, "thumbnail", "thumbnail_url", "thumbnailUrl"),
			VideoURL:     s.resources.Field(rec, "video_url", "videoUrl", "url"),
			PDFURL:       s.resources.Field(rec, "pdf", "pdf_url", "pdfUrl"),
			Duration:     intField(rec, "duration"),
			IsFree:       rec.Bool("is_free", "isFree"),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse[videoView]{Items: items, Page: res.Page, HasMore: res.HasMore()})
}

// renderHTML renders backend Markdown, logging and dropping output that fails to render.
func (s *Server) renderHTML(r *http.Request, src string) string {
	out, err := s.renderer.HTML(src)
	if err != nil {
		requestctx.Logger(r.Context()).Debug("rich text render failed", zap.Error(err))
		return ""
	}
	return out
}

func intField(rec record.Record, keys ...string) int {
	v, _ := rec.Int(keys...)
	return v
}
