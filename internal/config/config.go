// Package config loads the synchronizer configuration from a YAML file and
// WFSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clintrovert/wfsync/internal/crm"
	"github.com/clintrovert/wfsync/internal/database"
	"github.com/clintrovert/wfsync/internal/jira"
	"github.com/clintrovert/wfsync/internal/synchronizer"
	"github.com/clintrovert/wfsync/internal/workfront"
)

// DefaultPath is the config file read when --config is not given
const DefaultPath = "wfsync.yaml"

const envPrefix = "WFSYNC"

// Config is the complete synchronizer configuration
type Config struct {
	Sync      SyncConfig       `mapstructure:"sync" yaml:"sync"`
	Workfront workfront.Config `mapstructure:"workfront" yaml:"workfront"`
	Jira      JiraConfig       `mapstructure:"jira" yaml:"jira"`
	CRM       CRMConfig        `mapstructure:"crm" yaml:"crm"`
	API       APIConfig        `mapstructure:"api" yaml:"api"`
	Log       LogConfig        `mapstructure:"log" yaml:"log"`
	Keyring   KeyringConfig    `mapstructure:"keyring" yaml:"keyring"`
}

// SyncConfig controls the sync loop
type SyncConfig struct {
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	StateDB        string        `mapstructure:"state_db" yaml:"state_db"`
	DefaultVersion string        `mapstructure:"default_version" yaml:"default_version"`
	SpecialEpics   []string      `mapstructure:"special_epics" yaml:"special_epics"`
}

// Program maps a Workfront program onto its Jira development team and key
// prefix
type Program struct {
	Name      string `mapstructure:"name" yaml:"name"`
	DevTeam   string `mapstructure:"dev_team" yaml:"dev_team"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// IssueType maps a Jira issue type name onto its ID
type IssueType struct {
	Name string `mapstructure:"name" yaml:"name"`
	ID   string `mapstructure:"id" yaml:"id"`
}

// JiraFields names the Jira custom fields written on issue creation
type JiraFields struct {
	DevTeam     string `mapstructure:"dev_team" yaml:"dev_team"`
	EpicName    string `mapstructure:"epic_name" yaml:"epic_name"`
	PilotAgency string `mapstructure:"pilot_agency" yaml:"pilot_agency"`
}

// JiraConfig covers both the Jira REST API and the Jira database
type JiraConfig struct {
	URL               string          `mapstructure:"url" yaml:"url"`
	Username          string          `mapstructure:"username" yaml:"username"`
	Password          string          `mapstructure:"password" yaml:"password"`
	BrowseURL         string          `mapstructure:"browse_url" yaml:"browse_url"`
	CreateProjectPath string          `mapstructure:"create_project_path" yaml:"create_project_path"`
	InsecureTLS       bool            `mapstructure:"insecure_tls" yaml:"insecure_tls"`
	Database          database.Config `mapstructure:"database" yaml:"database"`
	IssueTypes        []IssueType     `mapstructure:"issue_types" yaml:"issue_types"`
	EpicIssueType     string          `mapstructure:"epic_issue_type" yaml:"epic_issue_type"`
	EpicLinkName      string          `mapstructure:"epic_link_name" yaml:"epic_link_name"`
	Fields            JiraFields      `mapstructure:"fields" yaml:"fields"`
	Programs          []Program       `mapstructure:"programs" yaml:"programs"`
}

// CRMConfig covers the CRM database
type CRMConfig struct {
	Database   database.Config `mapstructure:"database" yaml:"database"`
	crm.Config `mapstructure:",squash" yaml:",inline"`
}

// APIConfig holds the listen addresses of the status APIs. An empty address
// disables that server.
type APIConfig struct {
	RESTAddr string `mapstructure:"rest_addr" yaml:"rest_addr"`
	GRPCAddr string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
}

// Load reads the config file at path, applies environment overrides and
// defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sync.interval", 10*time.Second)
	v.SetDefault("sync.state_db", "wfsync.db")
	v.SetDefault("sync.default_version", "")

	v.SetDefault("workfront.url", "")
	v.SetDefault("workfront.username", "")
	v.SetDefault("workfront.api_key", "")
	v.SetDefault("workfront.portfolio", "")
	v.SetDefault("workfront.jira_task_form", "")
	v.SetDefault("workfront.account_param", "")
	v.SetDefault("workfront.opportunity_param", "")
	v.SetDefault("workfront.pilot_agency_param", "")
	v.SetDefault("workfront.new_request_project_id", "")
	v.SetDefault("workfront.time_zone", "UTC")

	v.SetDefault("jira.url", "")
	v.SetDefault("jira.username", "")
	v.SetDefault("jira.password", "")
	v.SetDefault("jira.browse_url", "")
	v.SetDefault("jira.create_project_path", "rest/projectcreator/1.0/create")
	v.SetDefault("jira.insecure_tls", false)
	v.SetDefault("jira.database.driver", database.DriverSQLServer)
	v.SetDefault("jira.database.dsn", "")
	v.SetDefault("jira.database.max_open_conns", 4)
	v.SetDefault("jira.database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("jira.epic_issue_type", "Epic")
	v.SetDefault("jira.epic_link_name", "Epic-Story Link")
	v.SetDefault("jira.fields.dev_team", "")
	v.SetDefault("jira.fields.epic_name", "")
	v.SetDefault("jira.fields.pilot_agency", "")

	v.SetDefault("crm.database.driver", database.DriverSQLServer)
	v.SetDefault("crm.database.dsn", "")
	v.SetDefault("crm.database.max_open_conns", 4)
	v.SetDefault("crm.database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("crm.excluded_account_pattern", "")

	v.SetDefault("api.rest_addr", ":8080")
	v.SetDefault("api.grpc_addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("keyring.service", "wfsync")
	v.SetDefault("keyring.file_dir", "~/.config/wfsync/credentials")
}

// Validate checks the settings the sync loop cannot run without
func (c *Config) Validate() error {
	var errs []error

	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	if c.Sync.StateDB == "" {
		errs = append(errs, errors.New("sync.state_db is required"))
	}
	if c.Workfront.URL == "" {
		errs = append(errs, errors.New("workfront.url is required"))
	}
	if c.Workfront.Username == "" || c.Workfront.APIKey == "" {
		errs = append(errs, errors.New("workfront.username and workfront.api_key are required"))
	}
	if c.Workfront.Portfolio == "" {
		errs = append(errs, errors.New("workfront.portfolio is required"))
	}
	if c.Workfront.NewRequestProjectID == "" {
		errs = append(errs, errors.New("workfront.new_request_project_id is required"))
	}
	if c.Jira.URL == "" {
		errs = append(errs, errors.New("jira.url is required"))
	}
	if c.Jira.Database.DSN == "" {
		errs = append(errs, errors.New("jira.database.dsn is required"))
	}
	if c.CRM.Database.DSN == "" {
		errs = append(errs, errors.New("crm.database.dsn is required"))
	}
	if _, ok := c.issueTypeIDs()[c.Jira.EpicIssueType]; !ok {
		errs = append(errs, fmt.Errorf("jira.issue_types has no entry for epic type %q", c.Jira.EpicIssueType))
	}
	if c.Jira.Fields.PilotAgency != "" {
		if _, err := customFieldID(c.Jira.Fields.PilotAgency); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// JiraClient returns the Jira REST client settings
func (c *Config) JiraClient() jira.ClientConfig {
	return jira.ClientConfig{
		BaseURL:           c.Jira.URL,
		Username:          c.Jira.Username,
		Password:          c.Jira.Password,
		BrowseURL:         c.Jira.BrowseURL,
		CreateProjectPath: c.Jira.CreateProjectPath,
		InsecureTLS:       c.Jira.InsecureTLS,
		IssueTypes:        c.issueTypeIDs(),
		EpicIssueType:     c.Jira.EpicIssueType,
		EpicLinkName:      c.Jira.EpicLinkName,
		DevTeamField:      c.Jira.Fields.DevTeam,
		EpicNameField:     c.Jira.Fields.EpicName,
		PilotAgencyField:  c.Jira.Fields.PilotAgency,
	}
}

// JiraQuery returns the Jira database gateway settings
func (c *Config) JiraQuery() jira.QueryConfig {
	pilotFieldID, _ := customFieldID(c.Jira.Fields.PilotAgency)
	return jira.QueryConfig{
		BrowseURL:          c.Jira.BrowseURL,
		EpicIssueTypeID:    c.issueTypeIDs()[c.Jira.EpicIssueType],
		PilotAgencyFieldID: pilotFieldID,
	}
}

// Synchronizer returns the orchestrator settings
func (c *Config) Synchronizer() synchronizer.Config {
	devTeams := make(map[string]string, len(c.Jira.Programs))
	prefixes := make(map[string]string, len(c.Jira.Programs))
	for _, p := range c.Jira.Programs {
		if p.DevTeam != "" {
			devTeams[p.Name] = p.DevTeam
		}
		if p.KeyPrefix != "" {
			prefixes[p.Name] = p.KeyPrefix
		}
	}

	return synchronizer.Config{
		Interval:       c.Sync.Interval,
		DefaultVersion: c.Sync.DefaultVersion,
		SpecialEpics:   c.Sync.SpecialEpics,
		DevTeams:       devTeams,
		KeyPrefixes:    prefixes,
	}
}

func (c *Config) issueTypeIDs() map[string]string {
	ids := make(map[string]string, len(c.Jira.IssueTypes))
	for _, t := range c.Jira.IssueTypes {
		ids[t.Name] = t.ID
	}
	return ids
}

// customFieldID extracts 10290 from "customfield_10290"
func customFieldID(field string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(field, "customfield_"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid jira custom field %q", field)
	}
	return id, nil
}
