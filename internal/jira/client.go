package jira

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	jira "github.com/andygrunwald/go-jira"
	"github.com/trivago/tgo/tcontainer"
	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/gateway"
	"github.com/clintrovert/wfsync/pkg/types"
)

// ClientConfig configures the Jira REST client
type ClientConfig struct {
	BaseURL           string
	Username          string
	Password          string
	BrowseURL         string
	CreateProjectPath string
	InsecureTLS       bool
	IssueTypes        map[string]string
	EpicIssueType     string
	EpicLinkName      string
	DevTeamField      string
	EpicNameField     string
	PilotAgencyField  string
}

// Client wraps the Jira REST API write operations
type Client struct {
	client *jira.Client
	cfg    ClientConfig
	logger *zap.Logger
}

type createProjectResponse struct {
	ProjectID   string `json:"projectId"`
	WarningData *struct {
		HasWarnings bool     `json:"hasWarnings"`
		Warnings    []string `json:"warnings"`
	} `json:"warningData"`
}

// NewClient creates a new Jira client
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	tp := jira.BasicAuthTransport{
		Username: cfg.Username,
		Password: cfg.Password,
	}

	if cfg.InsecureTLS {
		// the Jira server certificate does not match its host name
		tp.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	httpClient := tp.Client()
	httpClient.Timeout = 5 * time.Minute

	client, err := jira.NewClient(httpClient, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create jira client: %w", err)
	}

	if cfg.EpicIssueType == "" {
		cfg.EpicIssueType = types.IssueTypeEpic
	}

	return &Client{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// CreateProject creates a Jira project through the project-creation endpoint
// and returns its ID.
func (c *Client) CreateProject(ctx context.Context, params gateway.ProjectParams) (string, error) {
	req, err := c.client.NewRequestWithContext(ctx, http.MethodPost, c.cfg.CreateProjectPath, params)
	if err != nil {
		return "", gateway.NewError(gateway.KindTransport, "jira.create_project", err)
	}

	var resp createProjectResponse
	if _, err := c.client.Do(req, &resp); err != nil {
		return "", gateway.NewError(gateway.KindTransport, "jira.create_project", err)
	}

	if resp.WarningData != nil && resp.WarningData.HasWarnings {
		c.logger.Warn("project was created with warnings",
			zap.String("key", params.Key),
			zap.Strings("warnings", resp.WarningData.Warnings),
		)
	}

	if resp.ProjectID == "" {
		return "", gateway.Errorf(gateway.KindTransport, "jira.create_project",
			"no project id returned for key %s", params.Key)
	}

	return resp.ProjectID, nil
}

// CreateIssue creates an issue for a Workfront task and returns the task
// with its Jira identity filled in.
func (c *Client) CreateIssue(ctx context.Context, projectID, devTeam string, task types.Task) (types.Task, error) {
	fields, err := c.issueFields(projectID, devTeam, task)
	if err != nil {
		return task, err
	}

	issue, _, err := c.client.Issue.CreateWithContext(ctx, &jira.Issue{Fields: fields})
	if err != nil {
		return task, gateway.NewError(gateway.KindTransport, "jira.create_issue", err)
	}
	if issue == nil || issue.ID == "" || issue.Key == "" {
		return task, gateway.Errorf(gateway.KindTransport, "jira.create_issue",
			"incomplete response creating %q", task.Name)
	}

	task.JiraIssueID = issue.ID
	task.JiraIssueKey = issue.Key
	task.JiraIssueURL = c.BrowseURL(issue.Key)

	c.logger.Info("created jira issue",
		zap.String("key", issue.Key),
		zap.String("type", task.JiraIssueType),
		zap.String("workfront_task", task.WorkfrontID),
	)

	return task, nil
}

// CreateEpic creates an epic with the given name
func (c *Client) CreateEpic(ctx context.Context, projectID, devTeam, name string) (types.Task, error) {
	return c.CreateIssue(ctx, projectID, devTeam, types.Task{
		Name:          name,
		JiraIssueType: c.cfg.EpicIssueType,
		JiraEpicName:  name,
	})
}

// LinkIssueToEpic links an issue to its epic
func (c *Client) LinkIssueToEpic(ctx context.Context, issueKey, epicKey string) error {
	link := &jira.IssueLink{
		Type:         jira.IssueLinkType{Name: c.cfg.EpicLinkName},
		InwardIssue:  &jira.Issue{Key: epicKey},
		OutwardIssue: &jira.Issue{Key: issueKey},
	}

	if _, err := c.client.Issue.AddLinkWithContext(ctx, link); err != nil {
		return gateway.NewError(gateway.KindTransport, "jira.link_issue", err)
	}

	return nil
}

// BrowseURL returns the user-facing URL of an issue key
func (c *Client) BrowseURL(key string) string {
	return BrowseURL(c.cfg.BrowseURL, key)
}

// issueFields maps a task onto Jira issue fields
func (c *Client) issueFields(projectID, devTeam string, task types.Task) (*jira.IssueFields, error) {
	typeID, ok := c.cfg.IssueTypes[task.JiraIssueType]
	if !ok || typeID == "" {
		return nil, gateway.Errorf(gateway.KindConfig, "jira.create_issue",
			"issue type %q is not defined", task.JiraIssueType)
	}

	unknowns := tcontainer.NewMarshalMap()
	if c.cfg.DevTeamField != "" {
		unknowns[c.cfg.DevTeamField] = map[string]string{"value": devTeam}
	}

	switch task.JiraIssueType {
	case c.cfg.EpicIssueType:
		unknowns[c.cfg.EpicNameField] = task.Name
	case types.IssueTypePilot:
		if task.PilotAgency == "" {
			return nil, gateway.Errorf(gateway.KindConfig, "jira.create_issue",
				"pilot issue %q has no agency", task.Name)
		}
		unknowns[c.cfg.PilotAgencyField] = []map[string]string{{"value": task.PilotAgency}}
	}

	return &jira.IssueFields{
		Project:  jira.Project{ID: projectID},
		Type:     jira.IssueType{ID: typeID},
		Summary:  task.Name,
		Unknowns: unknowns,
	}, nil
}

// BrowseURL joins a browse prefix and an issue key
func BrowseURL(prefix, key string) string {
	if prefix == "" || key == "" {
		return ""
	}
	if strings.HasSuffix(prefix, "/") {
		return prefix + key
	}
	return prefix + "/" + key
}
