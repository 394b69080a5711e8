package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"UberPickups/src/datapush"
	"UberPickups/src/processor"
	"UberPickups/src/utils"
)

func newLoadCmd(rt *runtime) *cobra.Command {
	var rows int

	cmd := &cobra.Command{
		Use:   "load",
		Short: "加载数据并输出每小时上车次数",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("rows") {
				rows = rt.cfg.Source.RowLimit
			}
			loader, err := newLoader(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			t, err := loader.Load(cmd.Context(), rows)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rows: %d\ncolumns: %s\n", t.Nrow(), strings.Join(t.Names(), ", "))
			h := processor.HourlyHistogram(t)
			for hour, count := range h.Counts {
				fmt.Fprintf(out, "%02d:00 %d\n", hour, count)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 0, "读取行数，默认取配置 source.row_limit")
	return cmd
}

func newExportCmd(rt *runtime) *cobra.Command {
	var (
		rows int
		hour int
		out  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "导出某一小时的上车记录为xlsx",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("rows") {
				rows = rt.cfg.Source.RowLimit
			}
			loader, err := newLoader(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			_, selected, err := selection(cmd.Context(), loader, rows, hour)
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := utils.WriteExcel(selected.Frame(), f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			rt.logger.Info(fmt.Sprintf("已导出 %d 行到 %s", selected.Nrow(), out))
			fmt.Fprintf(cmd.OutOrStdout(), "%d rows -> %s\n", selected.Nrow(), out)
			return nil
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 0, "读取行数，默认取配置 source.row_limit")
	cmd.Flags().IntVar(&hour, "hour", -1, "小时(0-23)，-1 表示全部")
	cmd.Flags().StringVarP(&out, "out", "o", "uber-pickups.xlsx", "输出文件")
	return cmd
}

func newReportCmd(rt *runtime) *cobra.Command {
	var (
		rows int
		hour int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "通过邮件发送某一小时的统计报表",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("rows") {
				rows = rt.cfg.Source.RowLimit
			}
			if !cmd.Flags().Changed("hour") {
				hour = rt.cfg.Server.DefaultHour
			}
			if hour < 0 || hour >= processor.HoursPerDay {
				return fmt.Errorf("%w: %d", processor.ErrHourOutOfRange, hour)
			}
			if rt.cfg.Report.Server == "" {
				return fmt.Errorf("report.server 未配置")
			}

			loader, err := newLoader(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			report, err := buildReport(cmd.Context(), rt.cfg, loader, rows, hour)
			if err != nil {
				return err
			}

			mailer := datapush.NewMailer(rt.cfg.Report.Server, rt.cfg.Report.Username, rt.cfg.Report.Password, rt.cfg.Report.To)
			if err := mailer.Send(report); err != nil {
				rt.logger.Error("邮件发送失败: " + err.Error())
				return err
			}
			rt.logger.Info(fmt.Sprintf("报表已发送给 %s", strings.Join(rt.cfg.Report.To, ", ")))
			return nil
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 0, "读取行数，默认取配置 source.row_limit")
	cmd.Flags().IntVar(&hour, "hour", 17, "小时(0-23)，默认取配置 server.default_hour")
	return cmd
}
