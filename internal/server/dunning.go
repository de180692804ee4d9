package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	dunningdomain "github.com/smallbiznis/collecta/internal/dunning/domain"
)

type createProcessRequest struct {
	InvoiceID  string                   `json:"invoice_id"`
	TemplateID string                   `json:"template_id"`
	Steps      []dunningdomain.StepSpec `json:"steps"`
}

func (s *Server) createDunningProcess(c *gin.Context) {
	var req createProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, &ValidationErrors{Errors: []ValidationError{{Field: "body", Message: "invalid JSON body"}}})
		return
	}

	verrs := &ValidationErrors{}
	invoiceID, err := snowflake.ParseString(req.InvoiceID)
	if err != nil || invoiceID == 0 {
		verrs.Add("invoice_id", "must be a valid invoice id")
	}
	if req.TemplateID != "" && len(req.Steps) > 0 {
		verrs.Add("steps", "template_id and steps are mutually exclusive")
	}
	if verrs.HasErrors() {
		AbortWithError(c, verrs)
		return
	}

	process, err := s.dunningSvc.Create(c.Request.Context(), dunningdomain.CreateProcessRequest{
		OrgID:      orgIDFromContext(c),
		InvoiceID:  invoiceID,
		TemplateID: req.TemplateID,
		Steps:      req.Steps,
		Source:     "api",
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, process)
}

func (s *Server) listDunningProcesses(c *gin.Context) {
	processes, err := s.dunningSvc.ListByOrg(c.Request.Context(), orgIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processes": processes})
}

func (s *Server) listActiveDunningProcesses(c *gin.Context) {
	processes, err := s.dunningSvc.ListActive(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	orgID := orgIDFromContext(c)
	scoped := make([]dunningdomain.DunningProcess, 0, len(processes))
	for _, p := range processes {
		if p.OrgID == orgID {
			scoped = append(scoped, p)
		}
	}
	c.JSON(http.StatusOK, gin.H{"processes": scoped})
}

func (s *Server) getDunningProcess(c *gin.Context) {
	processID, ok := parseIDParam(c)
	if !ok {
		return
	}

	process, err := s.dunningSvc.GetByID(c.Request.Context(), orgIDFromContext(c), processID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, process)
}

func (s *Server) listDunningSteps(c *gin.Context) {
	processID, ok := parseIDParam(c)
	if !ok {
		return
	}

	steps, err := s.dunningSvc.ListSteps(c.Request.Context(), orgIDFromContext(c), processID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": steps})
}

func (s *Server) executeDunningStep(c *gin.Context) {
	processID, ok := parseIDParam(c)
	if !ok {
		return
	}

	// Ownership check before the tenant-agnostic execution path.
	if _, err := s.dunningSvc.GetByID(c.Request.Context(), orgIDFromContext(c), processID); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.dunningSvc.ExecuteNextStep(c.Request.Context(), processID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) pauseDunningProcess(c *gin.Context) {
	processID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	if err := s.dunningSvc.Pause(c.Request.Context(), orgIDFromContext(c), processID, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) resumeDunningProcess(c *gin.Context) {
	processID, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := s.dunningSvc.Resume(c.Request.Context(), orgIDFromContext(c), processID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (s *Server) cancelDunningProcess(c *gin.Context) {
	processID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	if err := s.dunningSvc.Cancel(c.Request.Context(), orgIDFromContext(c), processID, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type approvalDecisionRequest struct {
	DecidedBy string `json:"decided_by"`
	Note      string `json:"note"`
}

func (s *Server) approveDunningStep(c *gin.Context) {
	approvalID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req approvalDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DecidedBy == "" {
		AbortWithError(c, &ValidationErrors{Errors: []ValidationError{{Field: "decided_by", Message: "decided_by is required"}}})
		return
	}

	result, err := s.dunningSvc.ApproveStep(c.Request.Context(), orgIDFromContext(c), approvalID, req.DecidedBy, req.Note)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) rejectDunningStep(c *gin.Context) {
	approvalID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req approvalDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DecidedBy == "" {
		AbortWithError(c, &ValidationErrors{Errors: []ValidationError{{Field: "decided_by", Message: "decided_by is required"}}})
		return
	}

	if err := s.dunningSvc.RejectStep(c.Request.Context(), orgIDFromContext(c), approvalID, req.DecidedBy, req.Note); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (s *Server) triggerSweep(c *gin.Context) {
	stats, err := s.dunningSvc.ProcessDueActions(c.Request.Context(), s.batchSize(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) triggerOverdueScan(c *gin.Context) {
	created, err := s.dunningSvc.CreateForOverdueInvoices(c.Request.Context(), s.batchSize(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}

func (s *Server) triggerValidation(c *gin.Context) {
	report, err := s.dunningSvc.ValidateData(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) triggerCleanup(c *gin.Context) {
	deleted, err := s.dunningSvc.CleanupOld(c.Request.Context(), s.batchSize(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) triggerReports(c *gin.Context) {
	// Default to the previous complete month, same as the scheduled run.
	now := s.clock.Now().UTC()
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	if raw := c.Query("month"); raw != "" {
		parsed, err := time.Parse("2006-01", raw)
		if err != nil {
			AbortWithError(c, &ValidationErrors{Errors: []ValidationError{{Field: "month", Message: "must be YYYY-MM"}}})
			return
		}
		month = parsed
	}

	summary, err := s.dunningSvc.GenerateMonthlyReport(c.Request.Context(), month)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) batchSize(c *gin.Context) int {
	size := s.cfg.Dunning.SweepBatchSize
	if raw := c.Query("batch_size"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			size = parsed
		}
	}
	if size <= 0 {
		size = 50
	}
	return size
}

func parseIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil || id == 0 {
		AbortWithError(c, &ValidationErrors{Errors: []ValidationError{{Field: "id", Message: "must be a valid id"}}})
		return 0, false
	}
	return id, true
}
