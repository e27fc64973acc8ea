package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/timepulse/jirasync/internal/database/mirror"
	"github.com/timepulse/jirasync/internal/jira"
)

// OrphanSweep flags mirrored worklogs whose issue no longer exists remotely.
// Rows are flagged, never deleted; reports decide what to do with them. The
// full sync runs the same check inline when cleanup_orphaned is requested;
// this standalone sweep serves the maintenance lane.
type OrphanSweep struct {
	source jira.Source
	mirror *mirror.Repository
}

func NewOrphanSweep(source jira.Source, mr *mirror.Repository) *OrphanSweep {
	return &OrphanSweep{source: source, mirror: mr}
}

// CleanupOrphans walks each project's remote issue list and flags worklogs on
// issues that have vanished. Projects never mirrored locally are skipped.
func (s *OrphanSweep) CleanupOrphans(ctx context.Context, projectKeys []string) (int, error) {
	total := 0
	for _, key := range projectKeys {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		project, err := s.mirror.ProjectByKey(key)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return total, err
		}

		live, err := s.liveIssueKeys(ctx, key)
		if err != nil {
			return total, fmt.Errorf("list remote issues for %s: %w", key, err)
		}

		flagged, err := s.mirror.FlagOrphanedWorklogs(project.ID, live)
		if err != nil {
			return total, err
		}
		if flagged > 0 {
			log.Printf("[SYNC] orphan sweep: flagged %d worklog(s) in %s", flagged, key)
		}
		total += flagged
	}
	return total, nil
}

func (s *OrphanSweep) liveIssueKeys(ctx context.Context, projectKey string) ([]string, error) {
	var keys []string
	startAt := 0
	for {
		page, err := s.source.GetIssuesForProject(ctx, projectKey, jira.IssueOptions{
			StartAt:    startAt,
			MaxResults: 100,
		})
		if err != nil {
			return nil, err
		}
		for _, issue := range page.Issues {
			keys = append(keys, issue.Key)
		}
		startAt += len(page.Issues)
		if startAt >= page.Total || len(page.Issues) == 0 {
			return keys, nil
		}
	}
}
