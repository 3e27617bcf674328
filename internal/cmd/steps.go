package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/friendflow/internal/config"
	"github.com/Iron-Ham/friendflow/internal/welcome"
)

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "Inspect welcome step files",
}

var stepsValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a welcome steps file",
	Long: `Parse a YAML or JSON welcome steps file and check every step.

Without a file argument the configured welcome.steps_file, or the inline
welcome.steps, are checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStepsValidate,
}

func init() {
	rootCmd.AddCommand(stepsCmd)
	stepsCmd.AddCommand(stepsValidateCmd)
}

func runStepsValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	source := "welcome.steps"
	var raw []config.StepConfig
	if len(args) == 1 {
		source = args[0]
	} else {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if cfg.Welcome.StepsFile == "" {
			raw = cfg.Welcome.Steps
		} else {
			source = cfg.Welcome.StepsFile
		}
	}
	if source != "welcome.steps" {
		var err error
		if raw, err = welcome.ReadFile(source); err != nil {
			return err
		}
	}

	var problems config.ValidationErrors
	for i, step := range raw {
		problems = append(problems, config.ValidateStep(fmt.Sprintf("steps[%d]", i), step)...)
	}
	steps := welcome.Normalize(raw)

	fmt.Fprintf(out, "%s: %d step(s), %d usable\n", source, len(raw), len(steps))
	for i, st := range steps {
		fmt.Fprintf(out, "  %d. %s\n", i+1, st)
	}
	if dropped := len(raw) - len(steps); dropped > 0 {
		fmt.Fprintf(out, "%d step(s) are missing their content, path or url and will be skipped\n", dropped)
	}
	if len(problems) > 0 {
		return problems
	}
	if len(steps) == 0 {
		return fmt.Errorf("%s has no usable steps", source)
	}
	return nil
}
