// Package cmd sam2d 命令行入口
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chaos-io/sam2seg/config"
	"github.com/chaos-io/sam2seg/model"
	"github.com/chaos-io/sam2seg/segment"
	"github.com/chaos-io/sam2seg/util"
)

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "sam2d",
		Short:         "SAM2 background removal service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newSegmentCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// app 命令共享的依赖
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	loader *model.Loader
	engine *segment.Engine
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := util.NewLogger(cfg.Server.Mode)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	source := model.Source{
		ConnectionString: cfg.Storage.ConnectionString,
		Container:        cfg.Storage.Container,
	}
	runtime := model.RuntimeOptions{
		LibraryPath: cfg.Model.OnnxRuntimeLib,
		NumThreads:  cfg.Model.NumThreads,
	}
	loader := model.NewLoader(source, logger,
		model.WithBuilder(model.NewONNXBuilder(runtime)),
		model.WithLoadTimeout(cfg.Model.LoadTimeout))

	return &app{
		cfg:    cfg,
		logger: logger,
		loader: loader,
		engine: segment.NewEngine(logger),
	}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}
