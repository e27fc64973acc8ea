package jira

import "time"

// ProjectRecord is a project as returned by the JIRA REST API.
type ProjectRecord struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
	Lead *struct {
		DisplayName string `json:"displayName"`
	} `json:"lead,omitempty"`
}

// UserRecord is a JIRA account. AccountID may be empty for deactivated or
// anonymized users.
type UserRecord struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress,omitempty"`
	Active       bool   `json:"active"`
}

// IssueFields holds the subset of issue fields the sync consumes.
type IssueFields struct {
	Summary string `json:"summary"`
	Status  *struct {
		Name string `json:"name"`
	} `json:"status"`
	IssueType *struct {
		Name string `json:"name"`
	} `json:"issuetype"`
	Assignee *UserRecord `json:"assignee,omitempty"`
	Labels   []string    `json:"labels,omitempty"`
	Updated  *time.Time  `json:"updated,omitempty"`
}

// IssueRecord is an issue as returned by the JIRA search API.
type IssueRecord struct {
	ID     string       `json:"id"`
	Key    string       `json:"key"`
	Fields *IssueFields `json:"fields"`
}

// WorklogRecord is one worklog entry for an issue.
type WorklogRecord struct {
	ID               string     `json:"id"`
	Author           UserRecord `json:"author"`
	TimeSpentSeconds int        `json:"timeSpentSeconds"`
	Started          *time.Time `json:"started"`
	Updated          *time.Time `json:"updated,omitempty"`
	Comment          string     `json:"comment,omitempty"`
}

// IssuePage is one page of an issue search.
type IssuePage struct {
	StartAt    int           `json:"startAt"`
	MaxResults int           `json:"maxResults"`
	Total      int           `json:"total"`
	Issues     []IssueRecord `json:"issues"`
}

// ConnectionStatus is the result of a connection test.
type ConnectionStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Account string `json:"account,omitempty"`
}

// IssueOptions narrows an issue search.
type IssueOptions struct {
	StartAt    int
	MaxResults int
	// UpdatedSince restricts results to issues updated after the watermark.
	UpdatedSince *time.Time
	// OnlyWithWorklogs restricts results to issues carrying worklogs.
	OnlyWithWorklogs bool
}
