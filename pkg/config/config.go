package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadAndWatch 约定读取 config/{service}.yaml，环境变量覆盖，文件变更热更新到 out。
// onChange 在每次热更新成功后调用（比如刷新匹配容差）。
func LoadAndWatch(service string, out interface{}, onChange ...func()) (*viper.Viper, error) {
	// .env 可选，不存在不报错
	_ = godotenv.Load()

	v := newViper(service)
	v.SetConfigName(service)
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[%s] config file changed: %s", service, e.Name)
		if err := v.Unmarshal(out); err != nil {
			log.Printf("[%s] reload config error: %v", service, err)
			return
		}
		for _, fn := range onChange {
			fn()
		}
		log.Printf("[%s] config reloaded OK", service)
	})

	return v, nil
}

// LoadFile 读取指定文件，不监听（工具和单测用）
func LoadFile(service, path string, out interface{}) error {
	v := newViper(service)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(out)
}

// newViper 环境变量规则：RECON_SERVICE_HTTP_ADDR 覆盖 http.addr
func newViper(service string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(service, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}
