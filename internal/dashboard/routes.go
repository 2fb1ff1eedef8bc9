package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/intake/internal/interview"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, m *interview.Manager) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/sessions")
	api.GET("", handleList(m))
	api.POST("", handleStart(m))
	api.GET("/:id", handleGet(m))
	api.POST("/:id/answers", handleAnswer(m))
	api.POST("/:id/complete", handleComplete(m))
	api.POST("/:id/escalations", handleEscalate(m))
	api.GET("/:id/events", handleEvents(m))
}

type startBody struct {
	Subject           interview.Subject `json:"subject"`
	RequesterID       string            `json:"requester_id"`
	ContinueFrom      string            `json:"continue_from"`
	CurrentConfidence *int              `json:"current_confidence"`
	TargetConfidence  int               `json:"target_confidence"`
}

type answerBody struct {
	Text string `json:"text"`
}

type escalationBody struct {
	Kind             interview.Escalation `json:"kind"`
	TargetConfidence int                  `json:"target_confidence"`
}

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error    string              `json:"error"`
	Kind     interview.Kind      `json:"kind,omitempty"`
	Recovery *interview.Recovery `json:"recovery,omitempty"`
}

func handleList(m *interview.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := interview.ListFilter{
			Phase:       interview.Phase(c.Query("phase")),
			RequesterID: c.Query("requester"),
		}
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				badRequest(c, "limit must be a non-negative integer")
				return
			}
			f.Limit = n
		}
		sessions, err := m.List(c.Request.Context(), f)
		if err != nil {
			renderError(c, err)
			return
		}
		if sessions == nil {
			sessions = []interview.Summary{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

func handleStart(m *interview.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body startBody
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
		s, err := m.Start(c.Request.Context(), interview.StartRequest{
			Subject:           body.Subject,
			RequesterID:       body.RequesterID,
			ContinueFrom:      body.ContinueFrom,
			CurrentConfidence: body.CurrentConfidence,
			TargetConfidence:  body.TargetConfidence,
		})
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, s)
	}
}

func handleGet(m *interview.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := m.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func handleAnswer(m *interview.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body answerBody
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
		s, err := m.SubmitAnswer(c.Request.Context(), c.Param("id"), body.Text)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func handleComplete(m *interview.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := m.Complete(c.Request.Context(), c.Param("id"))
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func handleEscalate(m *interview.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body escalationBody
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
		switch body.Kind {
		case interview.EscalationAskMore, interview.EscalationThinkHarder:
		default:
			badRequest(c, "kind must be ask_more or think_harder")
			return
		}
		s, err := m.Escalate(c.Request.Context(), c.Param("id"), body.Kind, body.TargetConfidence)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: msg})
}

// renderError writes a classified error with its recovery guidance.
func renderError(c *gin.Context, err error) {
	var ie *interview.Error
	if !errors.As(err, &ie) {
		c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	rec := interview.RecoveryFor(ie.Kind)
	c.JSON(statusFor(ie.Kind), errorBody{
		Error:    err.Error(),
		Kind:     ie.Kind,
		Recovery: &rec,
	})
}

func statusFor(kind interview.Kind) int {
	switch kind {
	case interview.KindSessionNotFound:
		return http.StatusNotFound
	case interview.KindAlreadyFinalized, interview.KindInvalidState, interview.KindRejected:
		return http.StatusConflict
	case interview.KindQuestionLimit:
		return http.StatusUnprocessableEntity
	case interview.KindMalformedAnalysis:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}
