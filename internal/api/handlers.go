package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"alchemy/pkg/domain"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleIdentityTypes(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.Types())
}

func (s *Server) handleFind(c *gin.Context) {
	q, err := ParseQuery(c.Request.URL.Query())
	if err != nil {
		s.fail(c, err)
		return
	}
	found, err := s.experiments.Find(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]ExperimentResponse, len(found))
	for i, e := range found {
		out[i] = newExperimentResponse(e)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGet(c *gin.Context) {
	e, err := s.experiments.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newExperimentResponse(e))
}

func (s *Server) handlePut(c *gin.Context) {
	var req ExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_BODY"})
		return
	}
	saved, err := s.experiments.Save(c.Request.Context(), req.Experiment(c.Param("name")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newExperimentResponse(saved))
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.experiments.Delete(c.Request.Context(), c.Param("name")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleActiveTreatment(c *gin.Context) {
	var req IdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_BODY"})
		return
	}
	id, err := s.registry.New(req.Type, req.Attributes)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_IDENTITY"})
		return
	}
	t, ok, err := s.experiments.GetActiveTreatment(c.Request.Context(), c.Param("name"), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleActiveTreatments(c *gin.Context) {
	var req TreatmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_BODY"})
		return
	}
	ids := make([]domain.Identity, 0, len(req.Identities))
	for _, r := range req.Identities {
		id, err := s.registry.New(r.Type, r.Attributes)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_IDENTITY"})
			return
		}
		ids = append(ids, id)
	}
	treatments, err := s.experiments.GetActiveTreatments(c.Request.Context(), ids...)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, treatments)
}

// fail maps facade errors to status codes.
func (s *Server) fail(c *gin.Context, err error) {
	var (
		notFound   domain.ErrNotFound
		validation domain.ValidationError
		query      *domain.QueryError
	)
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_EXPERIMENT"})
	case errors.As(err, &query):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_QUERY"})
	default:
		s.logger.Error("request failed", "request_id", c.GetString(ctxRequestID), "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"})
	}
}
