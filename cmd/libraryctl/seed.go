package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/MorseWayne/library_api/internal/api"
	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/seed"
)

func newSeedCmd(a *app) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo users, categories, books and loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.db.RunMigrations(); err != nil {
				return err
			}
			if reset {
				if a.cfg.IsProd() {
					return errors.New("--reset is not allowed in prod")
				}
				if err := a.db.ResetData(cmd.Context()); err != nil {
					return err
				}
			}

			sum, err := a.seeder().Run(cmd.Context())
			if seed.IsAlreadySeeded(err) {
				return fmt.Errorf("database already contains seed users, rerun with --reset: %w", err)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "users: %d (%d admin, %d members)\n", sum.Admins+sum.Members, sum.Admins, sum.Members)
			fmt.Fprintf(out, "categories: %d, books: %d\n", sum.Categories, sum.Books)
			fmt.Fprintf(out, "loans: %d active, %d returned\n", sum.ActiveLoans, sum.ClosedLoans)
			fmt.Fprintf(out, "admin login: admin / %s\n", seed.AdminPassword)
			fmt.Fprintf(out, "member login: user1, user2, user3 / %s\n", seed.MemberPassword)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "delete all existing data before seeding")
	return cmd
}

func newCreateAdminCmd(a *app) *cobra.Command {
	var req domain.RegisterRequest
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			req.Password = password
			if err := api.ValidateStruct(&req); err != nil {
				return fmt.Errorf("invalid admin account: %w", err)
			}

			admin, err := a.seeder().CreateAdmin(cmd.Context(), &req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s created with id %d\n", admin.Username, admin.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Username, "username", "", "admin username")
	cmd.Flags().StringVar(&req.Email, "email", "", "admin email")
	cmd.Flags().StringVar(&req.Name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// readPassword 终端下不回显读取两次并确认；非终端（管道）读取一行
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		first, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		fmt.Fprint(prompt, "Confirm password: ")
		second, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
		return string(first), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}
