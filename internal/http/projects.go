package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timepulse/jirasync/internal/database/projectstatus"
	"github.com/timepulse/jirasync/internal/entities"
)

// ProjectStatusEntry combines the full-sync and worklog-sync state for one
// project into a single dashboard row.
type ProjectStatusEntry struct {
	ProjectKey string `json:"project_key"`

	FullSync    *entities.ProjectSyncStatus `json:"full_sync,omitempty"`
	WorklogSync *entities.WorklogSyncStatus `json:"worklog_sync,omitempty"`

	FullSyncDue    bool `json:"full_sync_due"`
	WorklogSyncDue bool `json:"worklog_sync_due"`
}

type ProjectsController struct {
	projects *projectstatus.Repository
	allowed  []string
}

func NewProjectsController(projects *projectstatus.Repository, allowed []string) *ProjectsController {
	return &ProjectsController{
		projects: projects,
		allowed:  allowed,
	}
}

// Status handles GET /api/projects/status: per-project sync freshness for
// every allowed project, including ones never synced.
func (p *ProjectsController) Status(c *gin.Context) {
	fullByKey := make(map[string]*entities.ProjectSyncStatus)
	full, err := p.projects.ListFullSync()
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for i := range full {
		fullByKey[full[i].ProjectKey] = &full[i]
	}

	worklogByKey := make(map[string]*entities.WorklogSyncStatus)
	worklog, err := p.projects.ListWorklogSync()
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for i := range worklog {
		worklogByKey[worklog[i].ProjectKey] = &worklog[i]
	}

	now := time.Now()
	entries := make([]ProjectStatusEntry, 0, len(p.allowed))
	for _, key := range p.allowed {
		entry := ProjectStatusEntry{
			ProjectKey:     key,
			FullSync:       fullByKey[key],
			WorklogSync:    worklogByKey[key],
			FullSyncDue:    true,
			WorklogSyncDue: true,
		}
		if entry.FullSync != nil {
			entry.FullSyncDue = entry.FullSync.IsDueForSync(now)
		}
		if entry.WorklogSync != nil {
			entry.WorklogSyncDue = entry.WorklogSync.IsDueForSync(now)
		}
		entries = append(entries, entry)
	}

	c.IndentedJSON(http.StatusOK, gin.H{"projects": entries})
}
