package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	Pprof        HTTPPprof     `mapstructure:"pprof"`
}

// HTTPPprof HTTP pprof 配置
type HTTPPprof struct {
	Enable bool   `mapstructure:"enable"`
	Prefix string `mapstructure:"prefix"`
}

// UARTConfig 串口参数
type UARTConfig struct {
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// ProtocolConfig 协议栈配置
type ProtocolConfig struct {
	// LocalAddr 本机 16 位地址
	LocalAddr uint16 `mapstructure:"localAddr"`
	// GroupAddr 组地址，0 表示不配置
	GroupAddr uint16 `mapstructure:"groupAddr"`
	// CellID 小区 ID，-1 表示不配置
	CellID int `mapstructure:"cellId"`
	// PowerDBm 发射功率
	PowerDBm int `mapstructure:"powerDbm"`
	// PowerMode 功耗模式：2 低功耗，3 常规；0 表示不切换
	PowerMode int `mapstructure:"powerMode"`
	// WakeupMs WOR 唤醒周期毫秒，0 表示不配置
	WakeupMs int `mapstructure:"wakeupMs"`
	// SendPerSecond 网状出站限速，0 取默认
	SendPerSecond float64 `mapstructure:"sendPerSecond"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeatTimeout"`
	NodeCapacity      int           `mapstructure:"nodeCapacity"`

	MeshUART   UARTConfig `mapstructure:"meshUart"`
	DirectUART UARTConfig `mapstructure:"directUart"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config 顶层配置结构
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 XSLOT_CONFIG 读取；否则依次在 . 与 ./configs 下查找 example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("XSLOT_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	// 默认值
	setDefaults(v)

	// 环境变量覆盖：前缀 XSLOT_，并将点号替换为下划线
	v.SetEnvPrefix("XSLOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 默认搜索路径下允许缺少配置文件，依赖默认值与环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "xslotd")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")
	v.SetDefault("http.pprof.enable", false)
	v.SetDefault("http.pprof.prefix", "/debug/pprof")

	v.SetDefault("protocol.localAddr", 0xFFFE)
	v.SetDefault("protocol.groupAddr", 0)
	v.SetDefault("protocol.cellId", -1)
	v.SetDefault("protocol.powerDbm", 14)
	v.SetDefault("protocol.powerMode", 0)
	v.SetDefault("protocol.wakeupMs", 0)
	v.SetDefault("protocol.sendPerSecond", 0)
	v.SetDefault("protocol.heartbeatInterval", "10s")
	v.SetDefault("protocol.heartbeatTimeout", "30s")
	v.SetDefault("protocol.nodeCapacity", 64)
	v.SetDefault("protocol.meshUart.port", "/dev/ttyS1")
	v.SetDefault("protocol.meshUart.baud", 115200)
	v.SetDefault("protocol.meshUart.readTimeout", "200ms")
	v.SetDefault("protocol.directUart.port", "/dev/ttyS2")
	v.SetDefault("protocol.directUart.baud", 115200)
	v.SetDefault("protocol.directUart.readTimeout", "200ms")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/xslotd.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}
