package cmd

import (
	"context"
	"fmt"

	"rigforge/app/database"
	"rigforge/app/storage"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "写入演示用户、角色和动画，并生成占位资源文件",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := loadConfig()
		defer log.Close()

		if err := database.Init(cfg, log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}
		defer database.Close()

		res, err := database.Seed(database.GetDB())
		if err != nil {
			log.Fatalf("写入演示数据失败: %v", err)
		}

		st, err := storage.New(cfg.Storage)
		if err != nil {
			log.Fatalf("初始化存储失败: %v", err)
		}

		// 占位文件只在缺失时写入
		ctx := context.Background()
		keys := make(map[string]string)
		for _, c := range res.Characters {
			keys[c.ModelFile] = "character " + c.Name
		}
		for _, a := range res.Animations {
			keys[a.AnimationFile] = "animation " + a.Name
		}
		for key, label := range keys {
			if key == "" {
				continue
			}
			if _, err := storage.ReadAll(ctx, st, key); err == nil {
				continue
			}
			if _, err := storage.WriteBytes(ctx, st, key, []byte(fmt.Sprintf("placeholder %s\n", label))); err != nil {
				log.Fatalf("写入占位文件 %s 失败: %v", key, err)
			}
			log.Infof("已写入占位文件: %s", key)
		}

		log.Infof("演示数据已就绪: 用户 %s / %s, %d 个角色, %d 个动画",
			database.DemoEmail, database.DemoPassword, len(res.Characters), len(res.Animations))
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
