package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittotape/internal/cli/prompt"
)

var eraseForce bool

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase the whole tape",
	Long: `Rewind and erase the tape. Everything on it is lost.

You are asked to type the drive name to confirm unless --force is given.

Examples:
  dttape erase
  dttape erase --force`,
	Args: cobra.NoArgs,
	RunE: runErase,
}

func init() {
	eraseCmd.Flags().BoolVarP(&eraseForce, "force", "f", false, "Skip confirmation prompt")
}

func runErase(cmd *cobra.Command, args []string) error {
	return withTape(func(ctx context.Context, t *tape) error {
		name := t.drive.Name()
		confirmed, err := prompt.ConfirmDangerWithForce(
			fmt.Sprintf("Erase every media file on %s", name), name, eraseForce)
		if err != nil {
			return err
		}
		if !confirmed {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
			return nil
		}
		if err := t.drive.Erase(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s erased\n", name)
		return nil
	})
}
