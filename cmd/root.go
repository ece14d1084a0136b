package cmd

import (
	"log"
	"os"

	"rigforge/app/config"
	"rigforge/app/logger"
	"rigforge/app/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "rigforge",
	Short:   "角色动画处理服务",
	Long:    "把动画应用到 3D 角色的异步处理服务：任务提交、执行引擎、状态查询与结果下载",
	Version: server.Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径 (默认查找 ./data/config.yaml 和 ./config.yaml)")
}

// initConfig 读取配置文件和环境变量（如果设置）
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 添加配置文件搜索路径
		viper.AddConfigPath("./data") // 相对于当前工作目录的 data 文件夹
		viper.AddConfigPath(".")      // 当前目录
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// RIGFORGE_ 前缀的环境变量覆盖配置
	config.BindEnv(viper.GetViper())
}

// loadConfig 加载配置并创建日志器，配置文件变化时热更新日志级别
func loadConfig() (*config.Config, *logger.Logger) {
	cfg := config.Load()
	appLog := logger.New(cfg.Log)

	config.Watch(viper.GetViper(), func(next *config.Config, err error) {
		if err != nil {
			appLog.Warnf("配置文件变更后解析失败，保持原配置: %v", err)
			return
		}
		if next.Log.Level == appLog.Level() {
			return
		}
		if appLog.SetLevel(next.Log.Level) {
			appLog.Infof("日志级别已调整为 %s", next.Log.Level)
		} else {
			log.Printf("无法识别的日志级别: %s", next.Log.Level)
		}
	})
	return cfg, appLog
}
