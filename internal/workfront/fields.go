package workfront

import "github.com/clintrovert/wfsync/pkg/types"

// Object codes
const (
	objCodeForm      = "ctgy"
	objCodeHour      = "hour"
	objCodeRequest   = "optask"
	objCodeParam     = "param"
	objCodeOption    = "popt"
	objCodePortfolio = "portfolio"
	objCodeProject   = "proj"
	objCodeTask      = "task"
	objCodeUser      = "user"
)

// Built-in fields
const (
	fieldID                     = "ID"
	fieldName                   = "name"
	fieldDescription            = "description"
	fieldStatus                 = "status"
	fieldAssignedToID           = "assignedToID"
	fieldAssignedToName         = "assignedTo:name"
	fieldCategoryID             = "categoryID"
	fieldDurationExpression     = "durationExpression"
	fieldDurationMinutes        = "durationMinutes"
	fieldDurationType           = "durationType"
	fieldEntryDate              = "entryDate"
	fieldHours                  = "hours"
	fieldIsHidden               = "isHidden"
	fieldLabel                  = "label"
	fieldLastUpdateDate         = "lastUpdateDate"
	fieldOwnerID                = "ownerID"
	fieldOwnerName              = "owner:name"
	fieldParameterID            = "parameterID"
	fieldParentID               = "parentID"
	fieldPercentComplete        = "percentComplete"
	fieldPortfolioID            = "portfolioID"
	fieldProgramName            = "program:name"
	fieldProjectID              = "projectID"
	fieldTaskID                 = "taskID"
	fieldURL                    = "URL"
	fieldValue                  = "value"
	fieldWorkRequiredExpression = "workRequiredExpression"
)

// Custom (DE:) fields
const (
	fieldJiraEpicName            = "DE:Jira Epic Name"
	fieldJiraIssueID             = "DE:Jira Issue ID"
	fieldJiraIssueType           = "DE:Jira Issue Type"
	fieldJiraIssueURL            = "DE:Jira Issue URL"
	fieldJiraIssueKey            = "DE:Jira Issue Number"
	fieldJiraProjectID           = "DE:Jira Project ID"
	fieldJiraProjectKey          = "DE:Jira Project Key"
	fieldLastJiraSync            = "DE:Last Jira Sync"
	fieldOpportunityFlag         = "DE:Flag Type"
	fieldOpportunityName         = "DE:Opportunity Name"
	fieldOpportunityPhase        = "DE:Sales Phase"
	fieldOpportunityPosition     = "DE:Position"
	fieldOpportunityProbability  = "DE:Probability"
	fieldOpportunityState        = "DE:Opportunity State"
	fieldAdditionalOpportunities = "DE:Additional Opportunities"
	fieldCombinedProbability     = "DE:Combined Probability"
	fieldLeadingOpportunity      = "DE:Leading Opportunity"
	fieldPilotAgency             = "DE:Pilot Agency"
	fieldSyncWithJira            = "DE:Sync With Jira"
	fieldSyncTaskToJira          = "DE:Sync Task To Jira"
	fieldVersions                = "DE:What versions of Spillman will be affected?"
)

// Search modifiers and limits
const (
	modSuffix      = "_Mod"
	rangeSuffix    = "_Range"
	modBetween     = "between"
	modNotNull     = "notnull"
	modNotEqual    = "ne"
	paramLimit     = "$$LIMIT"
	maxProjects    = "2000"
	maxUsers       = "500"
	valueYes       = "Yes"
	durationEffort = "D"

	uniqueKeyViolation = "exception.database.uniquekeyviolation"
)

// Statuses
const (
	StatusCurrent    = types.StatusCurrent
	StatusClosed     = types.StatusClosed
	StatusComplete   = types.StatusComplete
	StatusInProgress = types.StatusInProgress
)

var projectFields = []string{
	fieldID,
	fieldName,
	fieldDescription,
	fieldLastUpdateDate,
	fieldJiraProjectID,
	fieldJiraProjectKey,
	fieldStatus,
	fieldOwnerName,
	fieldProgramName,
	fieldURL,
	fieldVersions,
	fieldSyncWithJira,
	fieldLastJiraSync,
	fieldOpportunityName,
	fieldAdditionalOpportunities,
	fieldLeadingOpportunity,
	fieldCombinedProbability,
}

var requestFields = []string{
	fieldID,
	fieldName,
	fieldStatus,
	fieldOpportunityName,
	fieldAdditionalOpportunities,
	fieldLeadingOpportunity,
	fieldCombinedProbability,
}

var taskFields = []string{
	fieldID,
	fieldName,
	fieldDescription,
	fieldAssignedToID,
	fieldAssignedToName,
	fieldStatus,
	fieldPercentComplete,
	fieldDurationMinutes,
	fieldParentID,
	fieldLastUpdateDate,
	fieldJiraIssueID,
	fieldJiraIssueKey,
	fieldJiraIssueType,
	fieldJiraIssueURL,
	fieldJiraEpicName,
	fieldPilotAgency,
	fieldSyncTaskToJira,
}
