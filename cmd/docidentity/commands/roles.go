package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danghamo/docidentity/internal/domain/identity"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Inspect stored roles",
}

var rolesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all roles",
	RunE:  runRolesList,
}

func init() {
	rolesCmd.AddCommand(rolesListCmd)
}

// roleList is a table of roles.
type roleList []*identity.Role

// Headers implements tableRenderer.
func (rl roleList) Headers() []string {
	return []string{"ID", "NAME", "NORMALIZED", "CLAIMS"}
}

// Rows implements tableRenderer.
func (rl roleList) Rows() [][]string {
	rows := make([][]string, 0, len(rl))
	for _, r := range rl {
		rows = append(rows, []string{r.ID, r.Name, r.NormalizedName, strconv.Itoa(len(r.Claims))})
	}
	return rows
}

func runRolesList(cmd *cobra.Command, args []string) error {
	env, err := bootstrap(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer env.close()

	roles, err := env.stores.Roles.Roles(cmd.Context())
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		cmd.Println("No roles found.")
		return nil
	}

	printTable(cmd.OutOrStdout(), roleList(roles))
	return nil
}
