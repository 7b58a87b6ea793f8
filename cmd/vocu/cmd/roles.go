package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/book-expert/vocu-service/internal/vocu"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List voice roles",
	Long: `Lists every role of the account, market voices included.

Examples:
  vocu roles                 # numbered role list
  vocu roles add <share-id>  # register a shared voice
  vocu roles delete 3        # delete the third role of the list`,
	Args: cobra.NoArgs,
	RunE: runRoles,
}

var rolesAddCmd = &cobra.Command{
	Use:   "add <share-id>",
	Short: "Add a shared voice as a role",
	Args:  cobra.ExactArgs(1),
	RunE:  runRolesAdd,
}

var rolesDeleteCmd = &cobra.Command{
	Use:   "delete <number>",
	Short: "Delete a role by its number in the role list",
	Args:  cobra.ExactArgs(1),
	RunE:  runRolesDelete,
}

func init() {
	rootCmd.AddCommand(rolesCmd)
	rolesCmd.AddCommand(rolesAddCmd)
	rolesCmd.AddCommand(rolesDeleteCmd)
}

func runRoles(cmd *cobra.Command, _ []string) error {
	stack, cleanup, err := openStack(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	roles, err := stack.Client.ListRoles(cmd.Context())
	if err != nil {
		return err
	}

	if len(roles) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No roles found.")

		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), vocu.FormatRoles(roles))

	return nil
}

func runRolesAdd(cmd *cobra.Command, args []string) error {
	stack, cleanup, err := openStack(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	message, err := stack.Client.AddRole(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), message)

	return nil
}

func runRolesDelete(cmd *cobra.Command, args []string) error {
	number, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("role number must be an integer: %w", err)
	}

	stack, cleanup, err := openStack(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	// Numbers refer to the list as printed by "vocu roles".
	_, err = stack.Client.ListRoles(cmd.Context())
	if err != nil {
		return err
	}

	message, err := stack.Client.DeleteRole(cmd.Context(), number-1)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), message)

	return nil
}
