package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"perfhub/internal/domain/approvals"
	"perfhub/internal/domain/auth"
)

type importFile struct {
	Rules []approvals.RuleInput `yaml:"rules"`
}

func newImportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE.yaml",
		Short: "Create rules from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var file importFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			if len(file.Rules) == 0 {
				return fmt.Errorf("%s: no rules found", args[0])
			}

			service, err := c.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			created := make([]approvals.ApprovalRule, 0, len(file.Rules))
			for i, input := range file.Rules {
				rule, err := service.CreateRule(ctx, c.tenantID, c.actor, input)
				if err != nil {
					return fmt.Errorf("rule %d (%s): %w (%d imported before failure)", i+1, input.Name, err, len(created))
				}
				created = append(created, rule)
			}
			if err := c.printRules(cmd.OutOrStdout(), created); err != nil {
				return err
			}

			groups, err := service.FindConflicts(ctx, c.tenantID)
			if err != nil {
				return err
			}
			if len(groups) > 0 {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d conflicting rule group(s); run `rulesctl conflicts`\n", len(groups))
			}
			return nil
		},
	}
}

func newListCmd(c *cli) *cobra.Command {
	var ruleType, approvalContext, active string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := approvals.Filter{
				RuleType: approvals.RuleType(ruleType),
				Context:  approvals.Context(approvalContext),
			}
			if active != "" {
				parsed, err := strconv.ParseBool(active)
				if err != nil {
					return fmt.Errorf("--active must be true or false")
				}
				filter.IsActive = &parsed
			}
			service, err := c.open()
			if err != nil {
				return err
			}
			rules, err := service.ListRules(cmd.Context(), c.tenantID, filter)
			if err != nil {
				return err
			}
			return c.printRules(cmd.OutOrStdout(), rules)
		},
	}
	cmd.Flags().StringVar(&ruleType, "type", "", "department, cost_center or individual")
	cmd.Flags().StringVar(&approvalContext, "context", "", "approval context")
	cmd.Flags().StringVar(&active, "active", "", "true or false")
	return cmd
}

func newConflictsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Report active rules that share a type, context and scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := c.open()
			if err != nil {
				return err
			}
			groups, err := service.FindConflicts(cmd.Context(), c.tenantID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.output == "json" {
				return writeJSON(out, groups)
			}
			if len(groups) == 0 {
				_, _ = fmt.Fprintln(out, "no conflicts")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TYPE\tCONTEXT\tSCOPE\tRULE\tAPPROVER")
			for _, group := range groups {
				for _, rule := range group.Rules {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", group.RuleType, group.Context, group.ScopeKey, rule.ID, rule.ApproverID)
				}
			}
			return tw.Flush()
		},
	}
}

func newResolveCmd(c *cli) *cobra.Command {
	var approvalContext string
	var employee approvals.Employee
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show which approver applies to an employee",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := c.open()
			if err != nil {
				return err
			}
			approver, ok, err := service.ResolveApprover(cmd.Context(), c.tenantID, approvals.Context(approvalContext), employee)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.output == "json" {
				payload := map[string]any{"matched": ok}
				if ok {
					payload["approver"] = approver
				}
				return writeJSON(out, payload)
			}
			if !ok {
				_, _ = fmt.Fprintln(out, "no approver configured")
				return nil
			}
			_, _ = fmt.Fprintf(out, "approver %s (level %d) via %s rule %s\n", approver.ApproverID, approver.ApproverLevel, approver.RuleType, approver.RuleID)
			return nil
		},
	}
	cmd.Flags().StringVar(&approvalContext, "context", "", "approval context (required)")
	cmd.Flags().StringVar(&employee.EmployeeID, "employee", "", "employee id")
	cmd.Flags().StringVar(&employee.DepartmentID, "department", "", "employee's department id")
	cmd.Flags().StringVar(&employee.CostCenterID, "cost-center", "", "employee's cost center id")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}

func newStateCmd(c *cli, use string, action approvals.MutationAction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := c.open()
			if err != nil {
				return err
			}
			rule, err := service.MutateRule(cmd.Context(), c.tenantID, c.actor, approvals.Mutation{Action: action, RuleID: args[0]})
			if err != nil {
				return err
			}
			if action == approvals.MutationDelete {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", rule.ID)
				return nil
			}
			return c.printRules(cmd.OutOrStdout(), []approvals.ApprovalRule{rule})
		},
	}
}

func newHistoryCmd(c *cli) *cobra.Command {
	var filter approvals.HistoryFilter
	var action string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the rule change history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			filter.Action = approvals.HistoryAction(action)
			service, err := c.open()
			if err != nil {
				return err
			}
			entries, total, err := service.ListHistory(cmd.Context(), c.tenantID, filter, limit, offset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.output == "json" {
				return writeJSON(out, map[string]any{"total": total, "entries": entries})
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "CHANGED AT\tRULE\tACTION\tBY")
			for _, entry := range entries {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", entry.ChangedAt.UTC().Format(time.RFC3339), entry.RuleID, entry.Action, entry.ChangedBy)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "%d of %d entries\n", len(entries), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.RuleID, "rule", "", "only this rule id")
	cmd.Flags().StringVar(&action, "action", "", "created, updated, deactivated, reactivated or deleted")
	cmd.Flags().IntVar(&limit, "limit", 20, "entries per page")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func newTokenCmd(c *cli) *cobra.Command {
	var claims auth.Claims
	var secret string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			claims.TenantID = c.tenantID
			token, err := auth.GenerateToken(secret, claims, ttl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC signing secret")
	cmd.Flags().StringVar(&claims.UserID, "user", "admin", "user id")
	cmd.Flags().StringVar(&claims.RoleName, "role", auth.RoleHR, "role name")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func (c *cli) printRules(w io.Writer, rules []approvals.ApprovalRule) error {
	if c.output == "json" {
		if rules == nil {
			rules = []approvals.ApprovalRule{}
		}
		return writeJSON(w, rules)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tSCOPE\tCONTEXT\tAPPROVER\tLEVEL\tACTIVE")
	for _, rule := range rules {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%t\n",
			rule.ID, rule.Scope.Type(), rule.Scope.Key(), rule.Context, rule.ApproverID, rule.ApproverLevel, rule.IsActive)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
