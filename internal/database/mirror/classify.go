package mirror

import (
	"strings"

	"github.com/timepulse/jirasync/internal/entities"
)

// resourceKeywords maps lower-cased markers found in worklog comments or
// issue types to resource labels. First match wins, checked in declaration
// order so the more specific labels come first.
var resourceKeywords = []struct {
	label    entities.ResourceType
	keywords []string
}{
	{entities.ResourceContentManagement, []string{"content", "copywriting", "cms"}},
	{entities.ResourceArchitect, []string{"architect", "architecture", "adr"}},
	{entities.ResourceDevOps, []string{"devops", "deploy", "pipeline", "infrastructure", "ci/cd", "terraform"}},
	{entities.ResourceQA, []string{"qa", "test", "testing", "regression", "bug verification"}},
	{entities.ResourceFrontend, []string{"frontend", "front-end", "ui", "css", "layout", "component"}},
	{entities.ResourceBackend, []string{"backend", "back-end", "api", "endpoint", "database", "migration"}},
	{entities.ResourceManagement, []string{"meeting", "planning", "grooming", "retro", "standup", "management", "1:1"}},
}

// ClassifyWorklog derives the reporting-only resource label from a worklog
// comment and its issue type. Falls back to the generic development label;
// classification never affects sync correctness.
func ClassifyWorklog(comment, issueType string) entities.ResourceType {
	haystack := strings.ToLower(comment + " " + issueType)
	for _, entry := range resourceKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(haystack, kw) {
				return entry.label
			}
		}
	}
	return entities.ResourceDevelopment
}
