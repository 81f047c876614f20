package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
sync:
  interval: 30s
  state_db: /var/lib/wfsync/state.db
  default_version: "2024.1"
  special_epics: ["Go Live", "Training"]
workfront:
  url: https://example.my.workfront.com/attask/api/v4.0
  username: sync@example.com
  api_key: keyring:workfront-api-key
  portfolio: Development
  new_request_project_id: 5a1b
  time_zone: America/Denver
jira:
  url: https://jira.example.com
  username: sync
  password: hunter2
  browse_url: https://jira.example.com/browse/
  database:
    dsn: sqlserver://jira-db/jira
  issue_types:
    - name: Epic
      id: "10"
    - name: Story
      id: "7"
  fields:
    dev_team: customfield_10500
    epic_name: customfield_13363
    pilot_agency: customfield_10290
  programs:
    - name: Records Management
      dev_team: Team A
      key_prefix: R
    - name: Jail
      dev_team: Team B
crm:
  database:
    dsn: sqlserver://crm-db/crm
  excluded_opportunity_types: ["Maintenance"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wfsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, []string{"Go Live", "Training"}, cfg.Sync.SpecialEpics)
	assert.Equal(t, "America/Denver", cfg.Workfront.TimeZone)
	assert.Equal(t, "keyring:workfront-api-key", cfg.Workfront.APIKey)
	assert.Equal(t, "sqlserver", cfg.Jira.Database.Driver)
	assert.Equal(t, 4, cfg.Jira.Database.MaxOpenConns)
	assert.Equal(t, []string{"Maintenance"}, cfg.CRM.ExcludedOpportunityTypes)
	assert.Equal(t, "Epic-Story Link", cfg.Jira.EpicLinkName)
	assert.Equal(t, ":8080", cfg.API.RESTAddr)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Sync.Interval)
	assert.Equal(t, "wfsync.db", cfg.Sync.StateDB)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Error(t, cfg.Validate())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("WFSYNC_JIRA_PASSWORD", "from-env")
	t.Setenv("WFSYNC_SYNC_INTERVAL", "2m")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Jira.Password)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	cfg.Workfront.Portfolio = ""
	cfg.Jira.EpicIssueType = "Saga"
	cfg.Jira.Fields.PilotAgency = "agency"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workfront.portfolio")
	assert.Contains(t, err.Error(), `"Saga"`)
	assert.Contains(t, err.Error(), `"agency"`)
}

func TestDerivedSettings(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	sync := cfg.Synchronizer()
	assert.Equal(t, map[string]string{"Records Management": "Team A", "Jail": "Team B"}, sync.DevTeams)
	assert.Equal(t, map[string]string{"Records Management": "R"}, sync.KeyPrefixes)
	assert.Equal(t, "2024.1", sync.DefaultVersion)

	query := cfg.JiraQuery()
	assert.Equal(t, "10", query.EpicIssueTypeID)
	assert.Equal(t, int64(10290), query.PilotAgencyFieldID)

	client := cfg.JiraClient()
	assert.Equal(t, map[string]string{"Epic": "10", "Story": "7"}, client.IssueTypes)
	assert.Equal(t, "customfield_13363", client.EpicNameField)
}

func TestResolveSecrets(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	opened := 0
	ring := keyring.NewArrayKeyring([]keyring.Item{{Key: "workfront-api-key", Data: []byte("s3cret")}})
	open := func() (keyring.Keyring, error) {
		opened++
		return ring, nil
	}

	require.NoError(t, cfg.ResolveSecrets(open))
	assert.Equal(t, "s3cret", cfg.Workfront.APIKey)
	assert.Equal(t, "hunter2", cfg.Jira.Password)
	assert.Equal(t, 1, opened)

	require.NoError(t, cfg.ResolveSecrets(open))
	assert.Equal(t, 1, opened)
}

func TestResolveSecretsMissingKey(t *testing.T) {
	cfg := &Config{}
	cfg.Jira.Password = "keyring:absent"

	err := cfg.ResolveSecrets(func() (keyring.Keyring, error) {
		return keyring.NewArrayKeyring(nil), nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"absent"`)
}

func TestMasked(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	out := cfg.Masked()
	assert.Equal(t, "keyring:workfront-api-key", out.Workfront.APIKey)
	assert.Equal(t, masked, out.Jira.Password)
	assert.Equal(t, masked, out.CRM.Database.DSN)
	assert.Equal(t, "hunter2", cfg.Jira.Password)
}

func TestNewLogger(t *testing.T) {
	logger, err := LogConfig{Level: "debug", Development: true}.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = LogConfig{Level: "loud"}.NewLogger()
	assert.Error(t, err)
}
