package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/timepulse/jirasync/internal/entities"
)

func TestClassifyWorklog(t *testing.T) {
	tests := []struct {
		name      string
		comment   string
		issueType string
		want      entities.ResourceType
	}{
		{"backend from comment", "Implemented API endpoint", "", entities.ResourceBackend},
		{"frontend from comment", "Fixed CSS layout on dashboard", "", entities.ResourceFrontend},
		{"qa from comment", "Regression testing for release", "", entities.ResourceQA},
		{"devops from comment", "Updated terraform modules", "", entities.ResourceDevOps},
		{"management from comment", "Sprint planning meeting", "", entities.ResourceManagement},
		{"architect from comment", "Wrote ADR for the queue design", "", entities.ResourceArchitect},
		{"content from comment", "Updated CMS templates", "", entities.ResourceContentManagement},
		{"from issue type when comment is silent", "did some work", "Test Execution", entities.ResourceQA},
		{"case insensitive", "BACKEND migration", "", entities.ResourceBackend},
		{"fallback", "misc work on the ticket", "", entities.ResourceDevelopment},
		{"empty input", "", "", entities.ResourceDevelopment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyWorklog(tt.comment, tt.issueType))
		})
	}
}

func TestClassifyWorklogPrecedence(t *testing.T) {
	// "content testing" matches both content and qa markers; declaration
	// order wins.
	assert.Equal(t, entities.ResourceContentManagement, ClassifyWorklog("content testing", ""))
}
