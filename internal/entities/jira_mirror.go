package entities

import (
	"time"
)

// ResourceType is a reporting-only classification applied to worklogs. It
// never affects sync correctness.
type ResourceType string

const (
	ResourceFrontend          ResourceType = "frontend"
	ResourceBackend           ResourceType = "backend"
	ResourceQA                ResourceType = "qa"
	ResourceDevOps            ResourceType = "devops"
	ResourceManagement        ResourceType = "management"
	ResourceArchitect         ResourceType = "architect"
	ResourceContentManagement ResourceType = "content-management"
	ResourceDevelopment       ResourceType = "development"
)

// Project mirrors a JIRA project, keyed by the JIRA-native id for idempotent
// upsert.
type Project struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	JiraID    string    `gorm:"uniqueIndex;size:50" json:"jira_id"`
	Key       string    `gorm:"uniqueIndex;size:50" json:"key"`
	Name      string    `gorm:"size:255" json:"name"`
	Lead      string    `gorm:"size:255" json:"lead,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "jira_projects"
}

// JiraUser mirrors a JIRA account. Worklog authors may be deactivated or
// anonymized upstream, so records without an account id are skipped rather
// than stored.
type JiraUser struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AccountID   string    `gorm:"uniqueIndex;size:128" json:"account_id"`
	DisplayName string    `gorm:"size:255" json:"display_name"`
	Email       string    `gorm:"size:255" json:"email,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (JiraUser) TableName() string {
	return "jira_users"
}

// Issue mirrors a JIRA issue. Assignee is optional.
type Issue struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	JiraID      string     `gorm:"uniqueIndex;size:50" json:"jira_id"`
	Key         string     `gorm:"index;size:50" json:"key"`
	ProjectID   uint       `gorm:"index" json:"project_id"`
	AssigneeID  *uint      `gorm:"index" json:"assignee_id,omitempty"`
	Summary     string     `gorm:"size:1024" json:"summary"`
	Status      string     `gorm:"size:100" json:"status"`
	IssueType   string     `gorm:"size:100" json:"issue_type,omitempty"`
	Labels      string     `gorm:"size:1024" json:"labels,omitempty"` // comma-separated
	JiraUpdated *time.Time `json:"jira_updated,omitempty"`

	Project  Project   `gorm:"foreignKey:ProjectID" json:"-"`
	Assignee *JiraUser `gorm:"foreignKey:AssigneeID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Issue) TableName() string {
	return "jira_issues"
}

// Worklog mirrors one JIRA worklog entry, keyed by the JIRA worklog id.
type Worklog struct {
	ID               uint         `gorm:"primaryKey" json:"id"`
	JiraID           string       `gorm:"uniqueIndex;size:50" json:"jira_id"`
	IssueID          uint         `gorm:"index" json:"issue_id"`
	AuthorID         uint         `gorm:"index" json:"author_id"`
	TimeSpentSeconds int          `json:"time_spent_seconds"`
	StartedAt        time.Time    `json:"started_at"`
	Comment          string       `gorm:"type:text" json:"comment,omitempty"`
	ResourceType     ResourceType `gorm:"size:30;default:'development'" json:"resource_type"`
	JiraUpdated      *time.Time   `json:"jira_updated,omitempty"`

	// Orphaned is set by maintenance when the issue no longer exists
	// remotely; rows are flagged, never silently deleted.
	Orphaned bool `gorm:"default:false;index" json:"orphaned"`

	Issue  Issue    `gorm:"foreignKey:IssueID" json:"-"`
	Author JiraUser `gorm:"foreignKey:AuthorID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Worklog) TableName() string {
	return "jira_worklogs"
}
