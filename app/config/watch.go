package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch 监听配置文件变化，解码成功后回调新配置。
// 未加载配置文件时不做任何事。
func Watch(v *viper.Viper, onChange func(cfg *Config, err error)) {
	if v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(Parse(v))
	})
	v.WatchConfig()
}
