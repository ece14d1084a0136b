package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"rigforge/app/database"
	"rigforge/app/server"
	"rigforge/app/storage"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "单独运行执行引擎，从 processing_jobs 表认领任务",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := loadConfig()
		defer log.Close()

		if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
			cfg.Processing.Workers = n
		}

		if err := database.Init(cfg, log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}
		defer database.Close()

		st, err := storage.New(cfg.Storage)
		if err != nil {
			log.Fatalf("初始化存储失败: %v", err)
		}

		w := server.NewWorker(cfg, database.GetDB(), st, log)
		if err := w.Start(); err != nil {
			log.Fatalf("%v", err)
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("收到关闭信号，正在停止 worker...")
		w.Stop()
		log.Info("worker 已退出")
	},
}

func init() {
	workerCmd.Flags().Int("workers", 0, "并发 worker 数量，覆盖 processing.workers")
	rootCmd.AddCommand(workerCmd)
}
