// Package cmd 命令行入口
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"UberPickups/src/config"
	"UberPickups/src/storage"
)

// runtime 各子命令共享的配置和日志
type runtime struct {
	cfg    *config.Config
	logger *storage.Logger
}

// Execute 运行命令行，返回进程退出码
func Execute() int {
	return run(os.Args[1:])
}

func run(args []string) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string
	rt := &runtime{}

	rootCmd := &cobra.Command{
		Use:           "uberpickups",
		Short:         "Uber pickups in NYC",
		Long:          "加载纽约Uber上车记录，按小时统计并在地图上展示。",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			rt.cfg = cfg

			logger, err := storage.NewLogger(cfg.LogName)
			if err != nil {
				return err
			}
			if err := logger.SetMaxSize(cfg.LogMaxSize); err != nil {
				logger.Close()
				return err
			}
			rt.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.logger != nil {
				rt.logger.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "配置文件(.yaml/.yml/.json)")

	rootCmd.AddCommand(newServeCmd(rt))
	rootCmd.AddCommand(newLoadCmd(rt))
	rootCmd.AddCommand(newExportCmd(rt))
	rootCmd.AddCommand(newReportCmd(rt))

	return rootCmd
}

// loadConfig 未显式指定且默认配置文件不存在时使用默认配置
func loadConfig(path string, explicit bool) (*config.Config, error) {
	folder, file := filepath.Split(path)
	cfg, err := config.LoadConfig(folder, file)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}
