package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunSweep triggers one reconciliation pass. External schedulers hit this
// instead of running the sweeper process.
func (s *Server) RunSweep(c *gin.Context) {
	if s.sweeper == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if err := s.sweeper.RunOnce(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
