// Package httpserver exposes the assistant over HTTP: a text
// request/response surface, catalog browsing, and WebRTC signaling for
// the voice path.
package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vshah-se/superpod/internal/catalog"
	"github.com/vshah-se/superpod/internal/resolve"
	"github.com/vshah-se/superpod/internal/rtc"
	"github.com/vshah-se/superpod/internal/session"
)

// TextHandler is the typed-utterance surface of the session controller.
type TextHandler interface {
	HandleText(ctx context.Context, utterance string) (resolve.Result, error)
	State() session.State
}

// URLResolver maps catalog stream locators to client-fetchable URLs.
type URLResolver interface {
	StreamURL(locator string) string
}

// Uploader stores media objects. The upload route is registered only when
// the configured URLResolver also uploads.
type Uploader interface {
	Upload(key string, data []byte) error
}

// Insights serves episode summaries and related-content picks.
type Insights interface {
	Summarize(ctx context.Context, snap catalog.Snapshot, fileID string, style resolve.SummaryStyle) (resolve.EpisodeSummary, error)
	Recommend(snap catalog.Snapshot, fileID string, limit int) ([]resolve.Recommendation, error)
}

type Server struct {
	Echo *echo.Echo

	text     TextHandler
	cat      catalog.Provider
	urls     URLResolver
	insights Insights
	rtc      *rtc.Handler
	log      zerolog.Logger
}

func New(text TextHandler, cat catalog.Provider, urls URLResolver, insights Insights, rtcHandler *rtc.Handler, log zerolog.Logger) *Server {
	s := &Server{
		Echo:     newRouter(),
		text:     text,
		cat:      cat,
		urls:     urls,
		insights: insights,
		rtc:      rtcHandler,
		log:      log.With().Str("component", "http").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/healthz", s.handleHealthz)
	s.Echo.POST("/assistant/message", s.handleAssistantMessage)
	s.Echo.GET("/assistant/state", s.handleAssistantState)
	s.Echo.GET("/media", s.handleListMedia)
	s.Echo.GET("/media/:id/segments", s.handleListSegments)
	if up, ok := s.urls.(Uploader); ok {
		s.Echo.POST("/media/:id/audio", func(c echo.Context) error { return s.handleUploadAudio(c, up) })
	}
	if s.insights != nil {
		s.Echo.GET("/media/:id/summary", s.handleSummary)
		s.Echo.GET("/media/:id/recommendations", s.handleRecommendations)
	}
	if s.rtc != nil {
		s.Echo.POST("/call", s.handleCall)
		s.Echo.GET("/rtc", s.handleSignaling)
	}
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type messageRequest struct {
	Utterance      string `json:"utterance"`
	ConversationID string `json:"conversationId,omitempty"`
}

type playbackIntentResponse struct {
	FileID    string  `json:"fileId"`
	SegmentID string  `json:"segmentId"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Reason    string  `json:"reason,omitempty"`
}

type messageResponse struct {
	ConversationID string                  `json:"conversationId"`
	ReplyText      string                  `json:"replyText"`
	PlaybackIntent *playbackIntentResponse `json:"playbackIntent,omitempty"`
}

func (s *Server) handleAssistantMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Utterance = strings.TrimSpace(req.Utterance)
	if req.Utterance == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "utterance is required")
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	res, err := s.text.HandleText(c.Request().Context(), req.Utterance)
	if err != nil {
		s.log.Error().Err(err).Msg("message handling failed")
		return echo.NewHTTPError(http.StatusBadGateway, "could not process the message")
	}

	resp := messageResponse{ConversationID: req.ConversationID, ReplyText: res.ReplyText}
	if res.Intent != nil {
		resp.PlaybackIntent = &playbackIntentResponse{
			FileID:    res.Intent.FileID,
			SegmentID: res.Intent.Segment.ID,
			Start:     res.Intent.Segment.Start,
			End:       res.Intent.Segment.End,
			Reason:    res.Intent.Reason,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAssistantState(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"state": s.text.State().String()})
}

type mediaResponse struct {
	catalog.MediaFile
	StreamURL string `json:"streamUrl,omitempty"`
}

func (s *Server) handleListMedia(c echo.Context) error {
	files, err := s.cat.ListCompletedMedia(c.Request().Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list media failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list media")
	}
	out := make([]mediaResponse, 0, len(files))
	for _, f := range files {
		m := mediaResponse{MediaFile: f}
		if s.urls != nil {
			m.StreamURL = s.urls.StreamURL(f.StreamLocator)
		}
		out = append(out, m)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleListSegments(c echo.Context) error {
	segs, err := s.cat.GetSegments(c.Request().Context(), c.Param("id"))
	if err != nil {
		s.log.Error().Err(err).Str("file", c.Param("id")).Msg("list segments failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list segments")
	}
	if segs == nil {
		segs = []catalog.Segment{}
	}
	return c.JSON(http.StatusOK, segs)
}

func (s *Server) snapshot(c echo.Context) (catalog.Snapshot, error) {
	snap, err := catalog.BuildSnapshot(c.Request().Context(), s.cat)
	if err != nil {
		s.log.Error().Err(err).Msg("snapshot build failed")
		return catalog.Snapshot{}, echo.NewHTTPError(http.StatusInternalServerError, "could not read the catalog")
	}
	return snap, nil
}

func (s *Server) handleSummary(c echo.Context) error {
	snap, err := s.snapshot(c)
	if err != nil {
		return err
	}
	style := resolve.SummaryStyle(c.QueryParam("style"))
	sum, err := s.insights.Summarize(c.Request().Context(), snap, c.Param("id"), style)
	if err != nil {
		if errors.Is(err, resolve.ErrUnknownFile) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown media file")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, sum)
}

func (s *Server) handleRecommendations(c echo.Context) error {
	snap, err := s.snapshot(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	recs, err := s.insights.Recommend(snap, c.Param("id"), limit)
	if err != nil {
		if errors.Is(err, resolve.ErrUnknownFile) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown media file")
		}
		s.log.Error().Err(err).Str("file", c.Param("id")).Msg("recommendations failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "could not build recommendations")
	}
	if recs == nil {
		recs = []resolve.Recommendation{}
	}
	return c.JSON(http.StatusOK, recs)
}

const maxUploadBytes = 64 << 20

type uploadResponse struct {
	Locator   string `json:"locator"`
	StreamURL string `json:"streamUrl"`
}

// handleUploadAudio stores an audio object under the media file's id. The
// returned locator is what the catalog stores in StreamLocator.
func (s *Server) handleUploadAudio(c echo.Context, up Uploader) error {
	id := c.Param("id")
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxUploadBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read upload body")
	}
	if len(data) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty upload body")
	}
	if err := up.Upload(id, data); err != nil {
		s.log.Error().Err(err).Str("file", id).Msg("upload failed")
		return echo.NewHTTPError(http.StatusBadGateway, "could not store the audio")
	}
	locator := "supabase://" + id
	return c.JSON(http.StatusOK, uploadResponse{Locator: locator, StreamURL: s.urls.StreamURL(locator)})
}

func (s *Server) handleCall(c echo.Context) error {
	var offer rtc.SessionDescription
	if err := c.Bind(&offer); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid offer")
	}
	answer, err := s.rtc.HandleOffer(c.Request().Context(), offer)
	if err != nil {
		s.log.Error().Err(err).Msg("offer handling failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "could not establish call")
	}
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) handleSignaling(c echo.Context) error {
	s.rtc.ServeWebSocket(c.Response(), c.Request())
	return nil
}
