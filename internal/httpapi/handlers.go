package httpapi

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/theimaginaryfoundation/emotions-bot/emotion"
	"github.com/theimaginaryfoundation/emotions-bot/internal/logger"
	"github.com/theimaginaryfoundation/emotions-bot/supervision"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

type AnalyzeRequest struct {
	Text string `json:"text"`
}

type AnalyzeResponse struct {
	Ranking  emotion.Ranking `json:"ranking"`
	Filtered emotion.Ranking `json:"filtered"`
	Summary  string          `json:"summary"`
}

type analyzeHandler struct {
	classifier emotion.Classifier
	threshold  float64
	maxRunes   int
	logger     *logger.Logger
}

// Analyze classifies one text without touching any conversation or the
// supervision log.
func (h *analyzeHandler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		RespondError(c, http.StatusBadRequest, "empty_text", emotion.ErrEmptyInput)
		return
	}
	if utf8.RuneCountInString(text) > h.maxRunes {
		RespondError(c, http.StatusRequestEntityTooLarge, "text_too_long", errors.New("text exceeds the maximum length"))
		return
	}

	ranking, err := h.classifier.Classify(c.Request.Context(), text)
	if err != nil {
		h.logger.Warn("analyze failed", "error", err.Error())
		code := "classifier_unavailable"
		if emotion.IsKind(err, emotion.MalformedResponse) {
			code = "classifier_malformed"
		}
		RespondError(c, http.StatusBadGateway, code, err)
		return
	}
	ranking = emotion.Rank(ranking)
	filtered := emotion.Filter(ranking, h.threshold)
	c.JSON(http.StatusOK, AnalyzeResponse{
		Ranking:  ranking,
		Filtered: filtered,
		Summary:  emotion.Summarize(filtered),
	})
}

func statsHandler(load func() (supervision.Stats, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := load()
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusOK, supervision.Stats{LabelCounts: map[string]int{}})
			return
		}
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "stats_failed", err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}
