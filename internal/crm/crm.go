// Package crm reads accounts and sales opportunities from the CRM database.
package crm

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/database"
	"github.com/clintrovert/wfsync/internal/gateway"
	"github.com/clintrovert/wfsync/pkg/types"
)

const accountsQuery = `
SELECT DISTINCT %s AS account_guid,
       COALESCE(AC.Name, '') AS account_name,
       COALESCE(AC.St_AgencyCode, '') AS agency_code
FROM Account AC
WHERE AC.StatusCode = 1
  AND AC.CustomerTypeCode = 3
  AND AC.St_CustomerType IN (1, 2, 4, 5, 100000000)
  AND AC.St_DateLeftSpillman IS NULL
  AND AC.ModifiedOn >= ?`

const opportunitySelect = `
SELECT DISTINCT %s AS opportunity_guid,
       COALESCE(OP.Name, '') AS opportunity_name,
       COALESCE(OP.CloseProbability, 0) AS close_probability,
       COALESCE(PHS.Value, '') AS phase,
       COALESCE(FLG.Value, '') AS flag,
       COALESCE(POS.Value, '') AS position,
       OP.StateCode AS state_code
FROM Opportunity OP
LEFT OUTER JOIN FilteredStringMap PHS ON PHS.AttributeName = 'st_salesphase'
     AND PHS.FilteredViewName = 'filteredopportunity' AND PHS.AttributeValue = OP.St_SalesPhase
LEFT OUTER JOIN FilteredStringMap FLG ON FLG.AttributeName = 'st_flagtype'
     AND FLG.FilteredViewName = 'filteredopportunity' AND FLG.AttributeValue = OP.St_FlagType
LEFT OUTER JOIN FilteredStringMap POS ON POS.AttributeName = 'st_position'
     AND POS.FilteredViewName = 'filteredopportunity' AND POS.AttributeValue = OP.St_Position
LEFT OUTER JOIN FilteredStringMap TYP ON TYP.AttributeName = 'st_opportunitytype'
     AND TYP.FilteredViewName = 'filteredopportunity' AND TYP.AttributeValue = OP.St_OpportunityType`

// Config holds the CRM filters applied to opportunity deltas
type Config struct {
	ExcludedOpportunityTypes []string `mapstructure:"excluded_opportunity_types" yaml:"excluded_opportunity_types"`
	ExcludedAccountPattern   string   `mapstructure:"excluded_account_pattern" yaml:"excluded_account_pattern"`
}

// Client reads the CRM database
type Client struct {
	db     *sqlx.DB
	cfg    Config
	logger *zap.Logger
}

type accountRow struct {
	GUID       string `db:"account_guid"`
	Name       string `db:"account_name"`
	AgencyCode string `db:"agency_code"`
}

type opportunityRow struct {
	GUID        string `db:"opportunity_guid"`
	Name        string `db:"opportunity_name"`
	Probability int    `db:"close_probability"`
	Phase       string `db:"phase"`
	Flag        string `db:"flag"`
	Position    string `db:"position"`
	StateCode   int    `db:"state_code"`
}

// NewClient creates a new CRM client
func NewClient(db *sqlx.DB, cfg Config, logger *zap.Logger) *Client {
	return &Client{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}
}

// NewAccounts returns the active customer accounts modified since the given time
func (c *Client) NewAccounts(ctx context.Context, since time.Time) ([]types.Account, error) {
	query := fmt.Sprintf(accountsQuery, c.guid("AC.AccountId"))

	var rows []accountRow
	if err := c.db.SelectContext(ctx, &rows, c.db.Rebind(query), since.UTC()); err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "crm.new_accounts", err)
	}

	accounts := make([]types.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, types.Account{
			Name:       UniqueAccountName(r.Name, r.AgencyCode),
			GUID:       r.GUID,
			AgencyCode: r.AgencyCode,
		})
	}

	c.logger.Debug("found new accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}

// OpenOpportunities returns open opportunities created since the given time
func (c *Client) OpenOpportunities(ctx context.Context, since time.Time) ([]types.Opportunity, error) {
	return c.selectOpportunities(ctx, "crm.open_opportunities",
		"OP.StateCode = 0 AND OP.CreatedOn >= ?", since.UTC())
}

// ClosedOpportunities returns won or lost opportunities modified since the
// given time
func (c *Client) ClosedOpportunities(ctx context.Context, since time.Time) ([]types.Opportunity, error) {
	return c.selectOpportunities(ctx, "crm.closed_opportunities",
		"OP.StateCode <> 0 AND OP.ModifiedOn >= ?", since.UTC())
}

// Opportunity returns a single opportunity
func (c *Client) Opportunity(ctx context.Context, id string) (types.Opportunity, error) {
	query := fmt.Sprintf(opportunitySelect, c.guid("OP.OpportunityId")) + " WHERE OP.OpportunityId = ?"

	var rows []opportunityRow
	if err := c.db.SelectContext(ctx, &rows, c.db.Rebind(query), id); err != nil {
		return types.Opportunity{}, gateway.NewError(gateway.KindTransport, "crm.opportunity", err)
	}
	if len(rows) == 0 {
		return types.Opportunity{}, gateway.Errorf(gateway.KindNotFound, "crm.opportunity", "opportunity %s not found", id)
	}

	return rows[0].toOpportunity(), nil
}

// Opportunities resolves a set of opportunity IDs. Unknown IDs are dropped.
func (c *Client) Opportunities(ctx context.Context, ids []string) ([]types.Opportunity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		fmt.Sprintf(opportunitySelect, c.guid("OP.OpportunityId"))+" WHERE OP.OpportunityId IN (?)", ids)
	if err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "crm.opportunities", err)
	}

	var rows []opportunityRow
	if err := c.db.SelectContext(ctx, &rows, c.db.Rebind(query), args...); err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "crm.opportunities", err)
	}

	opps := make([]types.Opportunity, 0, len(rows))
	for _, r := range rows {
		opps = append(opps, r.toOpportunity())
	}

	if len(opps) < len(ids) {
		c.logger.Warn("some opportunities were not found in the CRM",
			zap.Strings("ids", ids),
			zap.Int("found", len(opps)),
		)
	}

	return opps, nil
}

func (c *Client) selectOpportunities(ctx context.Context, op, where string, since time.Time) ([]types.Opportunity, error) {
	query := fmt.Sprintf(opportunitySelect, c.guid("OP.OpportunityId")) + " WHERE " + where
	args := []any{since}

	if c.cfg.ExcludedAccountPattern != "" {
		query += " AND OP.AccountIdName NOT LIKE ?"
		args = append(args, c.cfg.ExcludedAccountPattern)
	}

	if len(c.cfg.ExcludedOpportunityTypes) > 0 {
		query += " AND COALESCE(TYP.Value, '') NOT IN (?)"
		args = append(args, c.cfg.ExcludedOpportunityTypes)

		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, gateway.NewError(gateway.KindTransport, op, err)
		}
	}

	var rows []opportunityRow
	if err := c.db.SelectContext(ctx, &rows, c.db.Rebind(query), args...); err != nil {
		return nil, gateway.NewError(gateway.KindTransport, op, err)
	}

	opps := make([]types.Opportunity, 0, len(rows))
	for _, r := range rows {
		opps = append(opps, r.toOpportunity())
	}
	return opps, nil
}

// guid renders a uniqueidentifier column as text
func (c *Client) guid(column string) string {
	if c.db.DriverName() == database.DriverSQLServer {
		return "CONVERT(varchar(36), " + column + ")"
	}
	return column
}

func (r opportunityRow) toOpportunity() types.Opportunity {
	return types.Opportunity{
		ID:          r.GUID,
		Name:        r.Name,
		Probability: r.Probability,
		Flag:        r.Flag,
		Phase:       r.Phase,
		Position:    r.Position,
		State:       types.OpportunityState(r.StateCode),
	}
}

// UniqueAccountName is the picklist label of an account
func UniqueAccountName(name, agencyCode string) string {
	return name + " (" + agencyCode + ")"
}
