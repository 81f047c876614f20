// Package workfront implements the Workfront side of the synchronizer on top
// of the Workfront stream API.
package workfront

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/gateway"
	"github.com/clintrovert/wfsync/pkg/types"
)

// Config configures the Workfront gateway
type Config struct {
	URL                 string `mapstructure:"url" yaml:"url"`
	Username            string `mapstructure:"username" yaml:"username"`
	APIKey              string `mapstructure:"api_key" yaml:"api_key"`
	Portfolio           string `mapstructure:"portfolio" yaml:"portfolio"`
	JiraTaskForm        string `mapstructure:"jira_task_form" yaml:"jira_task_form"`
	AccountParam        string `mapstructure:"account_param" yaml:"account_param"`
	OpportunityParam    string `mapstructure:"opportunity_param" yaml:"opportunity_param"`
	PilotAgencyParam    string `mapstructure:"pilot_agency_param" yaml:"pilot_agency_param"`
	NewRequestProjectID string `mapstructure:"new_request_project_id" yaml:"new_request_project_id"`
	TimeZone            string `mapstructure:"time_zone" yaml:"time_zone"`
}

// Client is the Workfront gateway. Login resolves the portfolio, custom
// form, parameter and user IDs every other call depends on.
type Client struct {
	stream *StreamClient
	cfg    Config
	loc    *time.Location
	logger *zap.Logger

	mu                 sync.RWMutex
	portfolioID        string
	jiraTaskFormID     string
	accountParamID     string
	opportunityParamID string
	pilotParamID       string
	users              map[string]string
}

// NewClient creates a new Workfront gateway
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("workfront url is required")
	}
	if cfg.Portfolio == "" {
		return nil, errors.New("workfront portfolio is required")
	}
	if cfg.NewRequestProjectID == "" {
		return nil, errors.New("workfront new request project id is required")
	}

	loc := time.UTC
	if cfg.TimeZone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("loading workfront time zone: %w", err)
		}
	}

	return &Client{
		stream: NewStreamClient(cfg.URL, httpClient, logger),
		cfg:    cfg,
		loc:    loc,
		logger: logger,
	}, nil
}

// Login opens a session and caches the IDs of the configured objects
func (c *Client) Login(ctx context.Context) error {
	if err := c.stream.Login(ctx, c.cfg.Username, c.cfg.APIKey); err != nil {
		return fmt.Errorf("failed to login to workfront: %w", err)
	}

	portfolioID, err := c.objectIDByName(ctx, objCodePortfolio, c.cfg.Portfolio)
	if err != nil {
		return err
	}

	formID, err := c.optionalObjectID(ctx, objCodeForm, c.cfg.JiraTaskForm)
	if err != nil {
		return err
	}
	accountParamID, err := c.optionalObjectID(ctx, objCodeParam, c.cfg.AccountParam)
	if err != nil {
		return err
	}
	opportunityParamID, err := c.optionalObjectID(ctx, objCodeParam, c.cfg.OpportunityParam)
	if err != nil {
		return err
	}
	pilotParamID, err := c.optionalObjectID(ctx, objCodeParam, c.cfg.PilotAgencyParam)
	if err != nil {
		return err
	}

	users, err := c.loadUsers(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.portfolioID = portfolioID
	c.jiraTaskFormID = formID
	c.accountParamID = accountParamID
	c.opportunityParamID = opportunityParamID
	c.pilotParamID = pilotParamID
	c.users = users
	c.mu.Unlock()

	c.logger.Info("connected to workfront",
		zap.String("portfolio", c.cfg.Portfolio),
		zap.Int("users", len(users)),
	)
	return nil
}

// Logout closes the session
func (c *Client) Logout(ctx context.Context) error {
	return c.stream.Logout(ctx)
}

// SearchProjects lists the projects of the development portfolio. A nil
// window returns current projects flagged for Jira sync; otherwise every
// project updated inside the window is returned.
func (c *Client) SearchProjects(ctx context.Context, window *gateway.Window) ([]types.Project, error) {
	c.mu.RLock()
	portfolioID := c.portfolioID
	c.mu.RUnlock()

	if portfolioID == "" {
		return nil, gateway.Errorf(gateway.KindConfig, "workfront.search_projects", "not logged in")
	}

	params := map[string]string{
		fieldPortfolioID: portfolioID,
		paramLimit:       maxProjects,
	}
	if window == nil {
		params[fieldStatus] = StatusCurrent
		params[fieldSyncWithJira] = valueYes
	} else {
		c.addWindow(params, window)
	}

	objs, err := c.stream.Search(ctx, objCodeProject, params, projectFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search projects: %w", err)
	}

	projects := make([]types.Project, 0, len(objs))
	for _, o := range objs {
		projects = append(projects, c.projectFromObject(o))
	}
	return projects, nil
}

// SearchRequests lists the requests of the new-request project. A nil window
// returns every request that is not closed.
func (c *Client) SearchRequests(ctx context.Context, window *gateway.Window) ([]types.Request, error) {
	params := map[string]string{
		fieldProjectID: c.cfg.NewRequestProjectID,
		paramLimit:     maxProjects,
	}
	if window == nil {
		params[fieldStatus] = StatusClosed
		params[fieldStatus+modSuffix] = modNotEqual
	} else {
		c.addWindow(params, window)
	}

	objs, err := c.stream.Search(ctx, objCodeRequest, params, requestFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search requests: %w", err)
	}

	requests := make([]types.Request, 0, len(objs))
	for _, o := range objs {
		requests = append(requests, types.Request{
			OpportunitySummary: summaryFromObject(o),
			WorkfrontID:        o.String(fieldID),
			Name:               o.String(fieldName),
			Status:             o.String(fieldStatus),
		})
	}
	return requests, nil
}

// ImplementationTaskID returns the task that parents the project's
// development work
func (c *Client) ImplementationTaskID(ctx context.Context, projectID string) (string, error) {
	objs, err := c.stream.Search(ctx, objCodeTask, map[string]string{
		fieldProjectID:               projectID,
		fieldSyncWithJira + modSuffix: modNotNull,
	}, []string{fieldID})
	if err != nil {
		return "", fmt.Errorf("failed to find implementation task: %w", err)
	}
	if len(objs) == 0 {
		return "", gateway.Errorf(gateway.KindNotFound, "workfront.implementation_task",
			"no implementation task found for project %s", projectID)
	}
	return objs[0].String(fieldID), nil
}

// DevTasks returns the project's tasks that carry a Jira issue type
func (c *Client) DevTasks(ctx context.Context, projectID string) ([]types.Task, error) {
	objs, err := c.stream.Search(ctx, objCodeTask, map[string]string{
		fieldProjectID:                projectID,
		fieldJiraIssueType + modSuffix: modNotNull,
	}, taskFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search dev tasks: %w", err)
	}

	tasks := make([]types.Task, 0, len(objs))
	for _, o := range objs {
		tasks = append(tasks, c.taskFromObject(o))
	}
	return tasks, nil
}

// UpdateTask writes the synchronized values of a task. Status is left
// alone; see SetTaskStatus.
func (c *Client) UpdateTask(ctx context.Context, project *types.Project, task types.Task) error {
	if task.WorkfrontID == "" {
		return gateway.Errorf(gateway.KindConfig, "workfront.update_task", "task %q has no workfront id", task.Name)
	}

	fields := c.taskUpdates(task)
	c.logger.Debug("updating workfront task",
		zap.String("project", project.WorkfrontID),
		zap.String("task", task.WorkfrontID),
	)

	if _, err := c.stream.Update(ctx, objCodeTask, task.WorkfrontID, fields, []string{fieldID}); err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.WorkfrontID, err)
	}
	return nil
}

// SetTaskStatus changes only the status of a task
func (c *Client) SetTaskStatus(ctx context.Context, taskID, status string) error {
	if _, err := c.stream.Update(ctx, objCodeTask, taskID, map[string]any{fieldStatus: status}, []string{fieldID}); err != nil {
		return fmt.Errorf("failed to set status of task %s: %w", taskID, err)
	}
	return nil
}

// AddTask creates a task in the project and returns its Workfront ID. Tasks
// without a parent are placed under the implementation task.
func (c *Client) AddTask(ctx context.Context, project *types.Project, task types.Task) (string, error) {
	fields := c.taskUpdates(task)
	fields[fieldProjectID] = project.WorkfrontID

	parentID := task.WorkfrontParentID
	if parentID == "" {
		parentID = project.ImplementationTaskID
	}
	if parentID != "" {
		fields[fieldParentID] = parentID
	}

	assigneeID := task.AssigneeID
	if assigneeID == "" && task.AssigneeName != "" {
		assigneeID = c.userID(task.AssigneeName)
	}
	if assigneeID != "" {
		fields[fieldAssignedToID] = assigneeID
	}

	c.mu.RLock()
	if c.jiraTaskFormID != "" {
		fields[fieldCategoryID] = c.jiraTaskFormID
	}
	c.mu.RUnlock()

	obj, err := c.stream.Create(ctx, objCodeTask, fields, []string{fieldID})
	if err != nil {
		return "", fmt.Errorf("failed to add task %q: %w", task.Name, err)
	}

	id := obj.String(fieldID)
	if id == "" {
		return "", gateway.Errorf(gateway.KindTransport, "workfront.add_task", "no id returned for task %q", task.Name)
	}

	c.logger.Info("added workfront task",
		zap.String("project", project.WorkfrontID),
		zap.String("task", id),
		zap.String("name", task.Name),
	)
	return id, nil
}

// AddWorkLogEntry appends an hour entry to a task
func (c *Client) AddWorkLogEntry(ctx context.Context, taskID string, entry types.WorkLog) error {
	fields := map[string]any{
		fieldTaskID:      taskID,
		fieldHours:       entry.HoursWorked,
		fieldEntryDate:   formatDate(entry.DateWorked, c.loc),
		fieldDescription: entry.Description + " (" + entry.IssueURL + " )",
	}
	if ownerID := c.userID(entry.Worker); ownerID != "" {
		fields[fieldOwnerID] = ownerID
	} else {
		c.logger.Warn("no workfront user for jira worker", zap.String("worker", entry.Worker))
	}

	if _, err := c.stream.Create(ctx, objCodeHour, fields, []string{fieldID}); err != nil {
		return fmt.Errorf("failed to add work log entry for %s: %w", entry.IssueKey, err)
	}
	return nil
}

// UpdateJiraProjectID records the Jira project created for a project
func (c *Client) UpdateJiraProjectID(ctx context.Context, project *types.Project) error {
	fields := map[string]any{
		fieldJiraProjectID:  project.JiraProjectID,
		fieldJiraProjectKey: project.JiraProjectKey,
	}
	if _, err := c.stream.Update(ctx, objCodeProject, project.WorkfrontID, fields, []string{fieldID}); err != nil {
		return fmt.Errorf("failed to update jira project id of %s: %w", project.WorkfrontID, err)
	}
	return nil
}

// UpdateLastJiraSync records when work logs were last copied for a project
func (c *Client) UpdateLastJiraSync(ctx context.Context, project *types.Project) error {
	if project.LastJiraSync == nil {
		return nil
	}

	fields := map[string]any{fieldLastJiraSync: formatDate(*project.LastJiraSync, c.loc)}
	if _, err := c.stream.Update(ctx, objCodeProject, project.WorkfrontID, fields, []string{fieldID}); err != nil {
		return fmt.Errorf("failed to update last jira sync of %s: %w", project.WorkfrontID, err)
	}
	return nil
}

// UpdateOpportunityStatus writes the leading opportunity and combined
// probability onto a project or request
func (c *Client) UpdateOpportunityStatus(ctx context.Context, holder types.OpportunityHolder, leading types.Opportunity, combined int) error {
	fields := map[string]any{
		fieldOpportunityFlag:        leading.Flag,
		fieldOpportunityPhase:       leading.Phase,
		fieldOpportunityPosition:    leading.Position,
		fieldOpportunityProbability: leading.Probability,
		fieldOpportunityState:       int(leading.State),
		fieldLeadingOpportunity:     leading.ID,
		fieldCombinedProbability:    combined,
	}

	if _, err := c.stream.Update(ctx, holder.WorkfrontObjCode(), holder.WorkfrontObjectID(), fields, []string{fieldID}); err != nil {
		return fmt.Errorf("failed to update opportunity status of %s: %w", holder.WorkfrontObjectID(), err)
	}
	return nil
}

// AddOpportunities adds opportunities to the opportunity picklist
func (c *Client) AddOpportunities(ctx context.Context, opportunities []types.Opportunity) error {
	c.mu.RLock()
	paramID := c.opportunityParamID
	c.mu.RUnlock()

	for _, opp := range opportunities {
		if err := c.addParameterOption(ctx, paramID, opp.ID, opp.Name); err != nil {
			return err
		}
	}
	return nil
}

// RemoveOpportunities takes closed opportunities off the picklist. Options
// still referenced by a project or request are hidden instead of deleted.
func (c *Client) RemoveOpportunities(ctx context.Context, opportunities []types.Opportunity) error {
	c.mu.RLock()
	paramID := c.opportunityParamID
	c.mu.RUnlock()

	for _, opp := range opportunities {
		optionID, err := c.optionID(ctx, paramID, opp.ID)
		if gateway.IsNotFound(err) {
			c.logger.Debug("opportunity is not on the picklist", zap.String("opportunity", opp.ID))
			continue
		}
		if err != nil {
			return err
		}

		referenced, err := c.opportunityReferenced(ctx, opp.ID)
		if err != nil {
			return err
		}

		if referenced {
			_, err = c.stream.Update(ctx, objCodeOption, optionID, map[string]any{fieldIsHidden: true},
				[]string{fieldID, fieldIsHidden, fieldLabel})
			if err != nil {
				return fmt.Errorf("failed to hide opportunity %s: %w", opp.ID, err)
			}
			c.logger.Debug("hid opportunity", zap.String("opportunity", opp.Name))
			continue
		}

		if err := c.stream.Delete(ctx, objCodeOption, optionID); err != nil {
			c.logger.Error("failed to remove opportunity", zap.String("opportunity", opp.ID), zap.Error(err))
			continue
		}
		c.logger.Debug("removed opportunity", zap.String("opportunity", opp.Name))
	}
	return nil
}

// AddAccounts adds CRM accounts to the account picklist
func (c *Client) AddAccounts(ctx context.Context, accounts []types.Account) error {
	c.mu.RLock()
	paramID := c.accountParamID
	c.mu.RUnlock()

	for _, account := range accounts {
		if err := c.addParameterOption(ctx, paramID, account.GUID, account.Name); err != nil {
			return err
		}
	}
	return nil
}

// PilotAgencies returns the pilot agency picklist keyed by value
func (c *Client) PilotAgencies(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	paramID := c.pilotParamID
	c.mu.RUnlock()

	if paramID == "" {
		return map[string]string{}, nil
	}

	objs, err := c.stream.Search(ctx, objCodeOption, map[string]string{
		fieldParameterID: paramID,
		paramLimit:       maxProjects,
	}, []string{fieldID, fieldValue, fieldLabel})
	if err != nil {
		return nil, fmt.Errorf("failed to list pilot agencies: %w", err)
	}

	agencies := make(map[string]string, len(objs))
	for _, o := range objs {
		agencies[o.String(fieldValue)] = o.String(fieldLabel)
	}
	return agencies, nil
}

// AddPilotAgencies adds Jira pilot agencies to the pilot agency picklist
func (c *Client) AddPilotAgencies(ctx context.Context, agencies []types.Account) error {
	c.mu.RLock()
	paramID := c.pilotParamID
	c.mu.RUnlock()

	for _, agency := range agencies {
		if err := c.addParameterOption(ctx, paramID, agency.AgencyCode, agency.AgencyCode); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) addParameterOption(ctx context.Context, paramID, value, label string) error {
	if paramID == "" {
		return gateway.Errorf(gateway.KindConfig, "workfront.add_option", "no parameter configured for %q", label)
	}

	_, err := c.stream.Create(ctx, objCodeOption, map[string]any{
		fieldParameterID: paramID,
		fieldValue:       value,
		fieldLabel:       label,
	}, []string{fieldID})

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.MessageKey == uniqueKeyViolation {
		c.logger.Warn("parameter option already exists", zap.String("label", label), zap.String("value", value))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to add parameter option %q: %w", label, err)
	}

	c.logger.Debug("added parameter option", zap.String("label", label), zap.String("value", value))
	return nil
}

func (c *Client) opportunityReferenced(ctx context.Context, opportunityID string) (bool, error) {
	for _, objCode := range []string{objCodeProject, objCodeRequest} {
		objs, err := c.stream.Search(ctx, objCode, map[string]string{fieldOpportunityName: opportunityID}, []string{fieldID})
		if err != nil {
			return false, fmt.Errorf("failed to check references to opportunity %s: %w", opportunityID, err)
		}
		if len(objs) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) optionID(ctx context.Context, paramID, value string) (string, error) {
	objs, err := c.stream.Search(ctx, objCodeOption, map[string]string{
		fieldParameterID: paramID,
		fieldValue:       value,
	}, []string{fieldID, fieldValue})
	if err != nil {
		return "", err
	}
	if len(objs) == 0 {
		return "", gateway.Errorf(gateway.KindNotFound, "workfront.option", "no option with value %s", value)
	}
	return objs[0].String(fieldID), nil
}

func (c *Client) objectIDByName(ctx context.Context, objCode, name string) (string, error) {
	objs, err := c.stream.Search(ctx, objCode, map[string]string{fieldName: name}, []string{fieldID, fieldName})
	if err != nil {
		return "", fmt.Errorf("failed to look up %s %q: %w", objCode, name, err)
	}
	if len(objs) == 0 {
		return "", gateway.Errorf(gateway.KindConfig, "workfront.lookup", "%s %q not found", objCode, name)
	}
	return objs[0].String(fieldID), nil
}

func (c *Client) optionalObjectID(ctx context.Context, objCode, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	return c.objectIDByName(ctx, objCode, name)
}

func (c *Client) loadUsers(ctx context.Context) (map[string]string, error) {
	objs, err := c.stream.Search(ctx, objCodeUser, map[string]string{paramLimit: maxUsers}, []string{fieldID, fieldName})
	if err != nil {
		return nil, fmt.Errorf("failed to load workfront users: %w", err)
	}

	users := make(map[string]string, len(objs))
	for _, o := range objs {
		users[o.String(fieldName)] = o.String(fieldID)
	}
	return users, nil
}

func (c *Client) userID(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.users[name]
}

func (c *Client) addWindow(params map[string]string, window *gateway.Window) {
	params[fieldLastUpdateDate] = formatDate(window.From, c.loc)
	params[fieldLastUpdateDate+rangeSuffix] = formatDate(window.To, c.loc)
	params[fieldLastUpdateDate+modSuffix] = modBetween
}

func (c *Client) taskUpdates(task types.Task) map[string]any {
	hours := strconv.FormatFloat(task.Duration, 'f', -1, 64) + " Hours"
	fields := map[string]any{
		fieldName:                   task.Name,
		fieldDescription:            task.Description,
		fieldPercentComplete:        task.PercentComplete,
		fieldWorkRequiredExpression: hours,
		fieldDurationExpression:     hours,
		fieldDurationType:           durationEffort,
	}

	setIf := func(field, value string) {
		if value != "" {
			fields[field] = value
		}
	}
	setIf(fieldJiraIssueID, task.JiraIssueID)
	setIf(fieldJiraIssueKey, task.JiraIssueKey)
	setIf(fieldJiraIssueType, task.JiraIssueType)
	setIf(fieldJiraIssueURL, task.JiraIssueURL)
	setIf(fieldJiraEpicName, task.JiraEpicName)

	return fields
}

func (c *Client) taskFromObject(o Object) types.Task {
	t := types.Task{
		WorkfrontID:       o.String(fieldID),
		WorkfrontParentID: o.String(fieldParentID),
		WorkfrontStatus:   o.String(fieldStatus),
		JiraIssueID:       o.String(fieldJiraIssueID),
		JiraIssueKey:      o.String(fieldJiraIssueKey),
		JiraIssueType:     o.String(fieldJiraIssueType),
		JiraIssueURL:      o.String(fieldJiraIssueURL),
		JiraEpicName:      o.String(fieldJiraEpicName),
		PilotAgency:       o.String(fieldPilotAgency),
		Name:              o.String(fieldName),
		Description:       o.String(fieldDescription),
		AssigneeID:        o.String(fieldAssignedToID),
		AssigneeName:      o.String(fieldAssignedToName),
		SyncWithJira:      true,
	}

	if _, ok := o.value(fieldSyncTaskToJira); ok {
		t.SyncWithJira = o.Yes(fieldSyncTaskToJira)
	}
	if minutes, ok := o.Float(fieldDurationMinutes); ok {
		t.Duration = minutes / 60
	}
	if pct, ok := o.Float(fieldPercentComplete); ok {
		t.PercentComplete = pct
	}
	if updated, ok := o.Time(fieldLastUpdateDate, c.loc); ok {
		t.LastUpdated = updated
	}

	return t
}

func (c *Client) projectFromObject(o Object) types.Project {
	p := types.Project{
		OpportunitySummary: summaryFromObject(o),
		WorkfrontID:        o.String(fieldID),
		JiraProjectID:      o.String(fieldJiraProjectID),
		JiraProjectKey:     o.String(fieldJiraProjectKey),
		Name:               o.String(fieldName),
		Description:        o.String(fieldDescription),
		Status:             o.String(fieldStatus),
		Owner:              o.String(fieldOwnerName),
		Program:            o.String(fieldProgramName),
		URL:                o.String(fieldURL),
		SyncWithJira:       o.Yes(fieldSyncWithJira),
	}

	for _, v := range o.Strings(fieldVersions) {
		p.AddVersion(v)
	}
	if last, ok := o.Time(fieldLastJiraSync, c.loc); ok {
		p.LastJiraSync = &last
	}

	return p
}

func summaryFromObject(o Object) types.OpportunitySummary {
	s := types.OpportunitySummary{
		LeadingID: o.String(fieldLeadingOpportunity),
	}

	if primary := o.String(fieldOpportunityName); primary != "" {
		s.IDs = append(s.IDs, primary)
	}
	s.IDs = append(s.IDs, o.Strings(fieldAdditionalOpportunities)...)

	if combined, ok := o.Float(fieldCombinedProbability); ok {
		v := int(math.Round(combined))
		s.Combined = &v
	}

	return s
}
