package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"allocator/internal/plans"
	"allocator/internal/plans/file"
)

func newPlansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List the plans in the configured backend",
		Args:  cobra.NoArgs,
		RunE:  runPlans,
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "rm NAME",
		Aliases: []string{"delete"},
		Short:   "Remove a plan from the configured backend",
		Args:    cobra.ExactArgs(1),
		RunE:    runPlansRemove,
	})
	return cmd
}

func runPlans(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := newCommandApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	names, err := app.Service.ListPlans(ctx)
	if err != nil {
		return err
	}
	def := app.Service.DefaultPlan()
	for _, name := range names {
		marker := " "
		if name == def {
			marker = "*"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
	}
	return nil
}

func runPlansRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newCommandApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Service.DeletePlan(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "已删除 %s (%s)\n", plans.NormalizeName(args[0]), app.Config.PlanSource)
	return nil
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Store a plan file in the configured backend",
		Long: `Parse a JSON or TOML plan file and save it in the configured backend,
replacing any plan stored under the same name. The name defaults to the
file name without its extension.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
	cmd.Flags().String("name", "", "Store the plan under this name")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = baseName(args[0])
	}

	plan, err := file.LoadFile(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := newCommandApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Service.SavePlan(ctx, name, plan); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "已导入 %d 个资产配置到 %s (%s)\n", len(plan), name, app.Config.PlanSource)
	return nil
}
