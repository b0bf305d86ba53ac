package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"allocator/internal/core"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "验证配置文件",
		Long: `Load a plan and report its entry count and percentage sum.

A sum outside 1.000 ± 0.001 is reported as a warning; the plan still
validates. An unreadable or empty plan fails.`,
		Args: cobra.NoArgs,
		RunE: runValidate,
	}
	cmd.Flags().String("plan", defaultPlanFile, "Plan file path or plan name")
	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	planFlag, _ := cmd.Flags().GetString("plan")
	out := cmd.OutOrStdout()

	ctx := cmd.Context()
	svc, name, closeFn, err := openPlan(ctx, cmd, planFlag)
	if err != nil {
		fmt.Fprintln(out, "✗ 配置文件验证失败")
		return err
	}
	defer closeFn()

	inspection, err := svc.Inspect(ctx, name)
	if err == nil {
		err = core.ValidatePlan(inspection.Entries)
	}
	if err != nil {
		fmt.Fprintln(out, "✗ 配置文件验证失败")
		return err
	}

	fmt.Fprintln(out, "✓ 配置文件验证通过")
	fmt.Fprintf(out, "共有 %d 个资产配置\n", len(inspection.Entries))
	fmt.Fprintf(out, "总百分比: %.3f\n", inspection.SumCheck.Sum)
	if !inspection.SumCheck.WithinTolerance {
		fmt.Fprintf(out, "警告: 总百分比为 %.3f，不等于 1.0\n", inspection.SumCheck.Sum)
	}
	return nil
}
