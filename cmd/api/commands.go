package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/auth"
	"github.com/mcclellann/fredBank/pkg/config"
	"github.com/mcclellann/fredBank/pkg/loan"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/mcclellann/fredBank/pkg/observability"
	"github.com/mcclellann/fredBank/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(emiCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(tokenCmd)
	userCmd.AddCommand(userAddCmd)
	tokenCmd.AddCommand(tokenIssueCmd)

	sweepCmd.Flags().String("as-of", "", "Sweep date as YYYY-MM-DD (default today, UTC)")
	userAddCmd.Flags().String("first-name", "", "First name")
	userAddCmd.Flags().String("last-name", "", "Last name")
	tokenIssueCmd.Flags().String("kind", "customer", "Principal kind: customer or employee")
	tokenIssueCmd.Flags().String("id", "", "Principal ID")
	tokenIssueCmd.Flags().String("role", models.RoleTeller, "Employee role")
}

// withStorage loads config, opens the database and hands both to fn.
func withStorage(fn func(cfg *config.Config, s store.Storage, logger *zap.Logger) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	s, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(cfg, s, logger)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(func(cfg *config.Config, _ store.Storage, _ *zap.Logger) error {
			fmt.Printf("schema ready (%s)\n", cfg.DBDriver)
			return nil
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep-overdue",
	Short: "Mark installments past their due date as overdue",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	asOf := time.Now().UTC()
	if v, _ := cmd.Flags().GetString("as-of"); v != "" {
		parsed, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return fmt.Errorf("invalid --as-of %q: %w", v, err)
		}
		asOf = parsed
	}

	return withStorage(func(cfg *config.Config, s store.Storage, logger *zap.Logger) error {
		engine := loan.NewEngine(s, observability.NewMetrics(), logger,
			loan.WithPenaltyRate(cfg.LatePenaltyRate),
		)
		marked, err := engine.MarkOverdue(cmd.Context(), asOf)
		if err != nil {
			return err
		}
		fmt.Printf("%d installment(s) marked overdue as of %s\n", marked, asOf.Format(time.DateOnly))
		return nil
	})
}

var emiCmd = &cobra.Command{
	Use:   "emi PRINCIPAL ANNUAL_RATE MONTHS",
	Short: "Price a loan without storing anything",
	Args:  cobra.ExactArgs(3),
	RunE:  runEMI,
}

func runEMI(cmd *cobra.Command, args []string) error {
	principal, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Errorf("invalid principal %q", args[0])
	}
	rate, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("invalid rate %q", args[1])
	}
	months, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid months %q", args[2])
	}

	q, err := loan.NewQuote(principal, rate, months)
	if err != nil {
		return err
	}
	fmt.Printf("Monthly EMI:    %s\n", q.MonthlyEMI.StringFixed(2))
	fmt.Printf("Total payable:  %s\n", q.TotalPayable.StringFixed(2))
	fmt.Printf("Total interest: %s\n", q.TotalInterest.StringFixed(2))
	return nil
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage customers",
}

var userAddCmd = &cobra.Command{
	Use:   "add EMAIL",
	Short: "Register a customer",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	first, _ := cmd.Flags().GetString("first-name")
	last, _ := cmd.Flags().GetString("last-name")
	user, err := models.NewUser(args[0], first, last, time.Now().UTC())
	if err != nil {
		return err
	}

	return withStorage(func(_ *config.Config, s store.Storage, _ *zap.Logger) error {
		if err := s.CreateUser(cmd.Context(), user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		fmt.Println(user.ID)
		return nil
	})
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token for a customer or employee",
	RunE:  runTokenIssue,
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	kind, _ := cmd.Flags().GetString("kind")
	rawID, _ := cmd.Flags().GetString("id")
	role, _ := cmd.Flags().GetString("role")

	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid --id %q: %w", rawID, err)
	}
	var p models.Principal
	switch kind {
	case "customer":
		p = models.Customer{ID: id}
	case "employee":
		p = models.Employee{ID: id, Role: role}
	default:
		return fmt.Errorf("unknown --kind %q", kind)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	token, err := auth.NewGateway(cfg.JWTSecret, cfg.TokenTTL).Issue(p)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
