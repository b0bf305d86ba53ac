package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"allocator/internal/report"
)

func newCalcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calc AMOUNT",
		Short: "计算资产配置",
		Long: `Allocate AMOUNT across a plan and print the report.

AMOUNT may contain grouping separators, e.g. 100,000.50.`,
		Args: cobra.ExactArgs(1),
		RunE: runCalc,
	}
	cmd.Flags().String("plan", defaultPlanFile, "Plan file path or plan name")
	cmd.Flags().StringP("output", "o", "", "Write the report to this file")
	cmd.Flags().StringP("format", "f", report.FormatText, "Report format: "+strings.Join(report.Formats(), "|"))
	return cmd
}

func runCalc(cmd *cobra.Command, args []string) error {
	planFlag, _ := cmd.Flags().GetString("plan")
	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")

	ctx := cmd.Context()
	svc, name, closeFn, err := openPlan(ctx, cmd, planFlag)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := svc.Calculate(ctx, name, args[0])
	if err != nil {
		return err
	}
	if !res.SumCheck.WithinTolerance {
		fmt.Fprintf(cmd.ErrOrStderr(), "警告: 总百分比为 %.3f，不等于 1.0\n", res.SumCheck.Sum)
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, format, res.Allocation, res.SumCheck); err != nil {
		return err
	}

	if output == "" {
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "报告已保存到: %s\n", output)
	return nil
}
