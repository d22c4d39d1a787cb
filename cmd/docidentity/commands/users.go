package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danghamo/docidentity/internal/domain/identity"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Inspect stored users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	RunE:  runUsersList,
}

var usersFindCmd = &cobra.Command{
	Use:   "find <username-or-email>",
	Short: "Resolve a user through the name or email lookup",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersFind,
}

func init() {
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersFindCmd)
}

// userList is a table of users.
type userList []*identity.User

// Headers implements tableRenderer.
func (ul userList) Headers() []string {
	return []string{"ID", "USERNAME", "EMAIL", "ROLES", "LOCKED"}
}

// Rows implements tableRenderer.
func (ul userList) Rows() [][]string {
	rows := make([][]string, 0, len(ul))
	for _, u := range ul {
		rows = append(rows, []string{
			u.ID,
			u.UserName,
			emptyDash(u.Email),
			emptyDash(strings.Join(u.Roles, ", ")),
			strconv.FormatBool(u.LockoutEnd != nil),
		})
	}
	return rows
}

func runUsersList(cmd *cobra.Command, args []string) error {
	env, err := bootstrap(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer env.close()

	users, err := env.stores.Users.Users(cmd.Context())
	if err != nil {
		return err
	}
	if len(users) == 0 {
		cmd.Println("No users found.")
		return nil
	}

	printTable(cmd.OutOrStdout(), userList(users))
	return nil
}

func runUsersFind(cmd *cobra.Command, args []string) error {
	env, err := bootstrap(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer env.close()

	key := identity.UpperInvariantNormalizer{}.Normalize(args[0])

	var user *identity.User
	if strings.Contains(args[0], "@") {
		user, err = env.stores.Users.FindByEmail(cmd.Context(), key)
	} else {
		user, err = env.stores.Users.FindByName(cmd.Context(), key)
	}
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %q not found", args[0])
	}

	printTable(cmd.OutOrStdout(), userList{user})
	return nil
}
