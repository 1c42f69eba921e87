package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"briefer/internal/agent"
	"briefer/internal/ident"
	"briefer/internal/runner"
)

func errorResponse(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   Version,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	})
}

// agentInfo combines the static definition with aggregate run state.
func (s *Server) agentInfo(def *agent.Definition, nextRuns map[string]time.Time) agent.Info {
	stats := s.deps.Store.AgentStats(def.ID)
	info := agent.Info{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Enabled:     def.Enabled,
		Schedule:    def.Schedule,
		SourceCount: len(def.Sources),
		LastRun:     stats.LastRun,
		LastStatus:  stats.LastStatus,
		TotalRuns:   stats.TotalRuns,
	}
	if next, ok := nextRuns[def.ID]; ok {
		info.NextRun = &next
	}
	return info
}

func (s *Server) handleListAgents(c *gin.Context) {
	nextRuns := s.deps.Scheduler.NextRuns()
	defs := s.deps.Registry.List()

	infos := make([]agent.Info, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, s.agentInfo(def, nextRuns))
	}
	c.JSON(http.StatusOK, infos)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	def := s.deps.Registry.Get(c.Param("id"))
	if def == nil {
		errorResponse(c, http.StatusNotFound, "agent not found")
		return
	}
	c.JSON(http.StatusOK, s.agentInfo(def, s.deps.Scheduler.NextRuns()))
}

func (s *Server) handleGetAgentConfig(c *gin.Context) {
	def := s.deps.Registry.Get(c.Param("id"))
	if def == nil {
		errorResponse(c, http.StatusNotFound, "agent not found")
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) handleTriggerRun(c *gin.Context) {
	record, err := s.deps.Runner.Start(c.Param("id"), agent.TriggerManual)
	if err != nil {
		switch {
		case errors.Is(err, runner.ErrUnknownAgent):
			errorResponse(c, http.StatusNotFound, "agent not found")
		case errors.Is(err, runner.ErrAgentDisabled):
			errorResponse(c, http.StatusConflict, "agent is disabled")
		default:
			s.logger.Error("Trigger run failed: %v", err)
			errorResponse(c, http.StatusInternalServerError, "failed to start run")
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":     record.RunID,
		"agent_id":   record.AgentID,
		"status":     record.Status,
		"started_at": record.StartedAt,
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	agentID := c.Param("id")
	if s.deps.Registry.Get(agentID) == nil {
		errorResponse(c, http.StatusNotFound, "agent not found")
		return
	}

	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	runs, err := s.deps.Store.List(agentID, limit, offset)
	if err != nil {
		s.logger.Error("List runs for %s failed: %v", agentID, err)
		errorResponse(c, http.StatusInternalServerError, "failed to list runs")
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c *gin.Context) {
	agentID, runID := c.Param("id"), c.Param("run_id")
	if !ident.IsSafeSegment(agentID) || !ident.IsSafeSegment(runID) {
		errorResponse(c, http.StatusNotFound, "run not found")
		return
	}

	record, err := s.deps.Store.Get(agentID, runID)
	if err != nil {
		errorResponse(c, http.StatusNotFound, "run not found")
		return
	}

	// Report text is included when the run produced one.
	report, err := s.deps.Store.Report(agentID, runID)
	if err != nil {
		report = ""
	}
	c.JSON(http.StatusOK, gin.H{
		"meta":   record,
		"report": report,
	})
}

func (s *Server) handleGetReport(c *gin.Context) {
	agentID, runID := c.Param("id"), c.Param("run_id")
	if !ident.IsSafeSegment(agentID) || !ident.IsSafeSegment(runID) {
		errorResponse(c, http.StatusNotFound, "report not found")
		return
	}

	report, err := s.deps.Store.Report(agentID, runID)
	if err != nil {
		errorResponse(c, http.StatusNotFound, "report not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": report})
}

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Scheduler.Status())
}

func (s *Server) handleSchedulerReload(c *gin.Context) {
	if err := s.deps.Registry.Reload(); err != nil {
		s.logger.Error("Registry reload failed: %v", err)
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.deps.Scheduler.Reload()

	status := s.deps.Scheduler.Status()
	c.JSON(http.StatusOK, gin.H{
		"reloaded": true,
		"jobs":     len(status.Jobs),
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
