package cmd

import (
	"context"
	"time"

	"rigforge/app/database"
	"rigforge/app/service"
	"rigforge/app/store"

	"github.com/spf13/cobra"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "执行一次任务回收，把心跳超时的任务置为失败",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := loadConfig()
		defer log.Close()

		if err := database.Init(cfg, log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}
		defer database.Close()

		staleAfter := cfg.Processing.StaleAfter
		if d, _ := cmd.Flags().GetDuration("stale-after"); d > 0 {
			staleAfter = d
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		reaper := service.NewReaper(store.NewJobStore(database.GetDB()), staleAfter, cfg.Processing.ReapSchedule, log)
		n, err := reaper.Sweep(ctx)
		if err != nil {
			log.Fatalf("回收任务失败: %v", err)
		}
		log.Infof("回收完成，共 %d 个任务被置为失败", n)
	},
}

func init() {
	reapCmd.Flags().Duration("stale-after", 0, "心跳超时判定，覆盖 processing.stale_after")
	rootCmd.AddCommand(reapCmd)
}
