package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sunbk201/netrule/internal/config"
	"github.com/sunbk201/netrule/internal/rule/common"
	"github.com/sunbk201/netrule/internal/settings"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the settings file and report every rule warning",
	RunE:  runValidate,
}

var errProblems = errors.New("settings have problems")

func init() {
	validateCmd.Flags().Bool("strict", false, "Exit non-zero when any warning is found")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return err
	}
	setCLILogger(cfg.LogLevel)
	strict, _ := cmd.Flags().GetBool("strict")

	rt, _, err := newRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	n := report(cmd.OutOrStdout(), rt)
	if strict && n > 0 {
		return fmt.Errorf("%w: %d found", errProblems, n)
	}
	return nil
}

// report prints warnings for every domain plus any hard validation error and
// returns how many lines it printed.
func report(w io.Writer, rt *runtime) int {
	snap := rt.holder.Current()
	reserved := rt.cfg.ReservedPortList()

	n := 0
	for _, d := range common.Domains {
		for _, warn := range settings.Check(snap.RuleSet(d), reserved) {
			fmt.Fprintln(w, "warning:", warn.String())
			n++
		}
	}
	s := snap.Settings()
	if err := settings.ValidateSettings(&s); err != nil {
		fmt.Fprintln(w, "error:", err)
		n++
	}
	if n == 0 {
		fmt.Fprintf(w, "ok: %s (version %d)\n", rt.cfg.SettingsFile, snap.Version)
	}
	return n
}
