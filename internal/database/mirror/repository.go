// Package mirror is the entity upsert layer: it translates one remote JIRA
// record at a time into a local row, idempotently. Upserts key on the
// JIRA-native id, so repeated calls with the same id produce exactly one row
// with last-write-wins semantics.
package mirror

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timepulse/jirasync/internal/entities"
	"github.com/timepulse/jirasync/internal/jira"
)

// ErrInvalidRecord wraps all data-validation failures on incoming API
// payloads.
var ErrInvalidRecord = errors.New("invalid remote record")

// Repository handles upserts of mirrored JIRA entities.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new mirror repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// StoreProject upserts a project by its JIRA id. A record without a key is a
// data-validation failure.
func (r *Repository) StoreProject(rec jira.ProjectRecord) (*entities.Project, error) {
	if rec.Key == "" {
		return nil, fmt.Errorf("%w: project record is missing key", ErrInvalidRecord)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: project %s is missing id", ErrInvalidRecord, rec.Key)
	}

	project := entities.Project{
		JiraID: rec.ID,
		Key:    rec.Key,
		Name:   rec.Name,
	}
	if rec.Lead != nil {
		project.Lead = rec.Lead.DisplayName
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "jira_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"key", "name", "lead", "updated_at"}),
	}).Create(&project).Error
	if err != nil {
		return nil, err
	}
	return r.projectByJiraID(rec.ID)
}

// StoreUser upserts a JIRA account. A record without an accountId is skipped
// with a warning rather than failed: worklog authors may be deactivated or
// anonymized upstream. A record with an accountId but no displayName is a
// data-validation failure, since such a row is unusable downstream.
// Returns (nil, nil) on skip.
func (r *Repository) StoreUser(rec jira.UserRecord) (*entities.JiraUser, error) {
	if rec.AccountID == "" {
		log.Printf("[SYNC] warning: skipping user without accountId (displayName=%q)", rec.DisplayName)
		return nil, nil
	}
	if rec.DisplayName == "" {
		return nil, fmt.Errorf("%w: user %s is missing displayName", ErrInvalidRecord, rec.AccountID)
	}

	user := entities.JiraUser{
		AccountID:   rec.AccountID,
		DisplayName: rec.DisplayName,
		Email:       rec.EmailAddress,
		Active:      rec.Active,
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "email", "active", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, err
	}

	var saved entities.JiraUser
	if err := r.db.Where("account_id = ?", rec.AccountID).First(&saved).Error; err != nil {
		return nil, err
	}
	return &saved, nil
}

// StoreIssue upserts an issue by its JIRA id. Requires id, key and a fields
// object with at least a summary and status. Assignee is optional.
func (r *Repository) StoreIssue(rec jira.IssueRecord, projectID uint, assigneeID *uint) (*entities.Issue, error) {
	if rec.ID == "" || rec.Key == "" {
		return nil, fmt.Errorf("%w: issue record is missing id or key", ErrInvalidRecord)
	}
	if rec.Fields == nil || rec.Fields.Summary == "" || rec.Fields.Status == nil {
		return nil, fmt.Errorf("%w: issue %s is missing required fields", ErrInvalidRecord, rec.Key)
	}

	issue := entities.Issue{
		JiraID:      rec.ID,
		Key:         rec.Key,
		ProjectID:   projectID,
		AssigneeID:  assigneeID,
		Summary:     rec.Fields.Summary,
		Status:      rec.Fields.Status.Name,
		Labels:      strings.Join(rec.Fields.Labels, ","),
		JiraUpdated: rec.Fields.Updated,
	}
	if rec.Fields.IssueType != nil {
		issue.IssueType = rec.Fields.IssueType.Name
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "jira_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"key", "project_id", "assignee_id", "summary", "status",
			"issue_type", "labels", "jira_updated", "updated_at",
		}),
	}).Create(&issue).Error
	if err != nil {
		return nil, err
	}

	var saved entities.Issue
	if err := r.db.Where("jira_id = ?", rec.ID).First(&saved).Error; err != nil {
		return nil, err
	}
	return &saved, nil
}

// StoreWorklogResult reports whether the upsert created a new row or
// overwrote an existing one; the delta engine tallies added vs updated.
type StoreWorklogResult struct {
	Worklog *entities.Worklog
	Created bool
}

// StoreWorklog upserts a worklog by its JIRA worklog id. Requires id,
// timeSpentSeconds and started.
func (r *Repository) StoreWorklog(rec jira.WorklogRecord, issueID, authorID uint) (*StoreWorklogResult, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: worklog record is missing id", ErrInvalidRecord)
	}
	if rec.TimeSpentSeconds <= 0 {
		return nil, fmt.Errorf("%w: worklog %s is missing timeSpentSeconds", ErrInvalidRecord, rec.ID)
	}
	if rec.Started == nil {
		return nil, fmt.Errorf("%w: worklog %s is missing started", ErrInvalidRecord, rec.ID)
	}

	var existing entities.Worklog
	err := r.db.Where("jira_id = ?", rec.ID).First(&existing).Error
	created := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !created {
		return nil, err
	}

	worklog := entities.Worklog{
		JiraID:           rec.ID,
		IssueID:          issueID,
		AuthorID:         authorID,
		TimeSpentSeconds: rec.TimeSpentSeconds,
		StartedAt:        *rec.Started,
		Comment:          rec.Comment,
		ResourceType:     ClassifyWorklog(rec.Comment, ""),
		JiraUpdated:      rec.Updated,
	}

	err = r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "jira_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"issue_id", "author_id", "time_spent_seconds", "started_at",
			"comment", "resource_type", "jira_updated", "orphaned", "updated_at",
		}),
	}).Create(&worklog).Error
	if err != nil {
		return nil, err
	}

	var saved entities.Worklog
	if err := r.db.Where("jira_id = ?", rec.ID).First(&saved).Error; err != nil {
		return nil, err
	}
	return &StoreWorklogResult{Worklog: &saved, Created: created}, nil
}

// ReclassifyWorklogs recomputes the resource label for every worklog of the
// given project, joining through issues for the type keywords. Used when a
// sync is started with the reclassify flag.
func (r *Repository) ReclassifyWorklogs(projectID uint) (int, error) {
	var worklogs []entities.Worklog
	err := r.db.Joins("JOIN jira_issues ON jira_issues.id = jira_worklogs.issue_id").
		Where("jira_issues.project_id = ?", projectID).
		Preload("Issue").
		Find(&worklogs).Error
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range worklogs {
		w := &worklogs[i]
		next := ClassifyWorklog(w.Comment, w.Issue.IssueType)
		if next == w.ResourceType {
			continue
		}
		if err := r.db.Model(w).Update("resource_type", next).Error; err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// FlagOrphanedWorklogs marks worklogs of a project whose issue key is no
// longer present remotely. Rows are flagged, never deleted.
func (r *Repository) FlagOrphanedWorklogs(projectID uint, liveIssueKeys []string) (int, error) {
	live := make(map[string]bool, len(liveIssueKeys))
	for _, k := range liveIssueKeys {
		live[k] = true
	}

	var issues []entities.Issue
	if err := r.db.Where("project_id = ?", projectID).Find(&issues).Error; err != nil {
		return 0, err
	}

	var orphanIssueIDs []uint
	for _, issue := range issues {
		if !live[issue.Key] {
			orphanIssueIDs = append(orphanIssueIDs, issue.ID)
		}
	}
	if len(orphanIssueIDs) == 0 {
		return 0, nil
	}

	res := r.db.Model(&entities.Worklog{}).
		Where("issue_id IN ? AND orphaned = ?", orphanIssueIDs, false).
		Update("orphaned", true)
	return int(res.RowsAffected), res.Error
}

// ProjectByKey looks up a mirrored project.
func (r *Repository) ProjectByKey(key string) (*entities.Project, error) {
	var project entities.Project
	if err := r.db.Where("key = ?", key).First(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

// IssueByKey looks up a mirrored issue.
func (r *Repository) IssueByKey(key string) (*entities.Issue, error) {
	var issue entities.Issue
	if err := r.db.Where("key = ?", key).First(&issue).Error; err != nil {
		return nil, err
	}
	return &issue, nil
}

func (r *Repository) projectByJiraID(jiraID string) (*entities.Project, error) {
	var project entities.Project
	if err := r.db.Where("jira_id = ?", jiraID).First(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}
