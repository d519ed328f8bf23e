package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Device   string         `mapstructure:"device"` // baseURL,secret,currency
	Terminal TerminalConfig `mapstructure:"terminal"`
	Voucher  VoucherConfig  `mapstructure:"voucher"`
	Hardware HardwareConfig `mapstructure:"hardware"`
	Display  DisplayConfig  `mapstructure:"display"`
	Database DatabaseConfig `mapstructure:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
	System   SystemConfig   `mapstructure:"system"`
}

// TerminalConfig 终端时序与币值配置
type TerminalConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Debounce       time.Duration `mapstructure:"debounce"`
	PulseTimeout   time.Duration `mapstructure:"pulse_timeout"`   // 一次投币脉冲串结束判定
	IdleRefresh    time.Duration `mapstructure:"idle_refresh"`    // 余额为0时的防残影刷新周期
	RefreshDwell   time.Duration `mapstructure:"refresh_dwell"`   // 刷新时空白页停留时间
	AbandonTimeout time.Duration `mapstructure:"abandon_timeout"` // 有余额但无新投币时自动进入取款
	ConfirmGrace   time.Duration `mapstructure:"confirm_grace"`   // 显示二维码后忽略按键的时间
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"` // 等待用户确认扫码的最长时间
	BlinkInterval  time.Duration `mapstructure:"blink_interval"`  // 指示灯闪烁间隔
	CleanWindow    time.Duration `mapstructure:"clean_window"`    // 清洁模式连按窗口
	CleanPresses   int           `mapstructure:"clean_presses"`   // 超过该次数进入清洁模式
	CleanLockout   time.Duration `mapstructure:"clean_lockout"`   // 每次计数后的按键锁定
	CleanDwell     time.Duration `mapstructure:"clean_dwell"`     // 清洁模式黑屏时间
	CoinValues     []uint64      `mapstructure:"coin_values"`     // 下标为脉冲数，值为分
	MinPulses      int           `mapstructure:"min_pulses"`
	MaxPulses      int           `mapstructure:"max_pulses"`
}

// VoucherConfig 兑换码配置
type VoucherConfig struct {
	HRP          string `mapstructure:"hrp"`  // bech32 前缀
	Mode         string `mapstructure:"mode"` // frame | lnurl
	NonceLength  int    `mapstructure:"nonce_length"`
	DebugLogging bool   `mapstructure:"debug_logging"` // 调试时记录完整URL
}

// HardwareConfig 硬件配置
type HardwareConfig struct {
	Backend string       `mapstructure:"backend"` // mock | gpio | serial
	GPIO    GPIOConfig   `mapstructure:"gpio"`
	Serial  SerialConfig `mapstructure:"serial"`
}

// GPIOConfig 本机GPIO引脚配置（periph引脚名）
type GPIOConfig struct {
	CoinPin      string `mapstructure:"coin_pin"`
	ButtonPin    string `mapstructure:"button_pin"`
	GatePin      string `mapstructure:"gate_pin"`
	IndicatorPin string `mapstructure:"indicator_pin"`
}

// SerialConfig IO协处理器串口配置
type SerialConfig struct {
	Port              string        `mapstructure:"port"`
	BaudRate          int           `mapstructure:"baud_rate"`
	DataBits          int           `mapstructure:"data_bits"`
	StopBits          int           `mapstructure:"stop_bits"`
	Parity            string        `mapstructure:"parity"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	AckTimeout        time.Duration `mapstructure:"ack_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// DisplayConfig 屏幕配置
type DisplayConfig struct {
	Backend string `mapstructure:"backend"` // console
	Output  string `mapstructure:"output"`  // stdout 或文件路径
	Width   int    `mapstructure:"width"`
	Height  int    `mapstructure:"height"`
}

// DatabaseConfig 数据库配置（只用于审计流水，不保存余额）
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	Retention       time.Duration `mapstructure:"retention"` // 启动时删除更早的流水，0为不删除
}

// MetricsConfig 指标导出配置
type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Textfile string        `mapstructure:"textfile"`
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	Timezone string `mapstructure:"timezone"`
}

var (
	cfg  *Config
	once sync.Once
	v    *viper.Viper
)

// Init 初始化配置，只加载一次，之后不再修改
func Init(configPath string) error {
	var err error
	once.Do(func() {
		// .env 不存在时忽略
		_ = godotenv.Load()

		v = viper.New()
		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		v.SetEnvPrefix("COIN_ATM")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		setDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			// 如果配置文件不存在，使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		c := &Config{}
		if err = v.Unmarshal(c); err != nil {
			return
		}
		cfg = c
	})
	return err
}

// Load 从指定viper实例解析配置（测试用，不影响全局实例）
func Load(vp *viper.Viper) (*Config, error) {
	setDefaults(vp)
	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, err
	}
	return c, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("device", "")

	// 终端时序（与固件一致）
	v.SetDefault("terminal.poll_interval", "2ms")
	v.SetDefault("terminal.debounce", "35ms")
	v.SetDefault("terminal.pulse_timeout", "200ms")
	v.SetDefault("terminal.idle_refresh", "12h")
	v.SetDefault("terminal.refresh_dwell", "10s")
	v.SetDefault("terminal.abandon_timeout", "6m")
	v.SetDefault("terminal.confirm_grace", "5s")
	v.SetDefault("terminal.confirm_timeout", "10m")
	v.SetDefault("terminal.blink_interval", "500ms")
	v.SetDefault("terminal.clean_window", "4s")
	v.SetDefault("terminal.clean_presses", 5)
	v.SetDefault("terminal.clean_lockout", "500ms")
	v.SetDefault("terminal.clean_dwell", "30s")
	v.SetDefault("terminal.coin_values", []uint64{0, 0, 5, 10, 20, 50, 100, 200})
	v.SetDefault("terminal.min_pulses", 2)
	v.SetDefault("terminal.max_pulses", 7)

	v.SetDefault("voucher.hrp", "atm")
	v.SetDefault("voucher.mode", "frame")
	v.SetDefault("voucher.nonce_length", 8)
	v.SetDefault("voucher.debug_logging", false)

	v.SetDefault("hardware.backend", "mock")
	v.SetDefault("hardware.gpio.coin_pin", "GPIO27")
	v.SetDefault("hardware.gpio.button_pin", "GPIO22")
	v.SetDefault("hardware.gpio.gate_pin", "GPIO23")
	v.SetDefault("hardware.gpio.indicator_pin", "GPIO24")
	v.SetDefault("hardware.serial.port", "/dev/ttyS1")
	v.SetDefault("hardware.serial.baud_rate", 115200)
	v.SetDefault("hardware.serial.data_bits", 8)
	v.SetDefault("hardware.serial.stop_bits", 1)
	v.SetDefault("hardware.serial.parity", "N")
	v.SetDefault("hardware.serial.read_timeout", "50ms")
	v.SetDefault("hardware.serial.ack_timeout", "300ms")
	v.SetDefault("hardware.serial.heartbeat_interval", "5s")

	v.SetDefault("display.backend", "console")
	v.SetDefault("display.output", "stdout")
	v.SetDefault("display.width", 200)
	v.SetDefault("display.height", 200)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/coin-atm.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.retention", "2160h")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.textfile", "./data/coin_atm.prom")
	v.SetDefault("metrics.interval", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "coin-atm.log")
	v.SetDefault("log.file.max_size", 20)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Get 获取配置实例
func Get() *Config {
	return cfg
}

// ConfigFile 返回实际使用的配置文件
func ConfigFile() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// TerminalParams 解析后的设备参数
func (c *Config) TerminalParams() TerminalParams {
	return ParseDevice(c.Device)
}

// Validate 校验配置，密钥为空时设备不得运行
func (c *Config) Validate() error {
	params := c.TerminalParams()
	if params.Secret == "" {
		return fmt.Errorf("device secret is empty")
	}
	if params.BaseURL == "" {
		return fmt.Errorf("device base url is empty")
	}

	t := c.Terminal
	if t.MinPulses < 0 || t.MinPulses > t.MaxPulses {
		return fmt.Errorf("invalid pulse range [%d,%d]", t.MinPulses, t.MaxPulses)
	}
	if t.MaxPulses >= len(t.CoinValues) {
		return fmt.Errorf("coin table has %d entries, max pulses %d", len(t.CoinValues), t.MaxPulses)
	}
	if t.PollInterval <= 0 || t.Debounce < 0 || t.PulseTimeout <= 0 {
		return fmt.Errorf("invalid pulse timing")
	}
	// 有余额时不得无限等待
	if t.AbandonTimeout <= 0 {
		return fmt.Errorf("terminal.abandon_timeout must be positive, got %s", t.AbandonTimeout)
	}
	if t.ConfirmTimeout <= 0 {
		return fmt.Errorf("terminal.confirm_timeout must be positive, got %s", t.ConfirmTimeout)
	}
	if t.BlinkInterval <= 0 {
		return fmt.Errorf("terminal.blink_interval must be positive, got %s", t.BlinkInterval)
	}
	if t.CleanWindow <= 0 {
		return fmt.Errorf("terminal.clean_window must be positive, got %s", t.CleanWindow)
	}
	if t.CleanPresses < 0 {
		return fmt.Errorf("terminal.clean_presses must not be negative, got %d", t.CleanPresses)
	}

	switch c.Voucher.Mode {
	case "frame", "lnurl":
	default:
		return fmt.Errorf("unknown voucher mode %q", c.Voucher.Mode)
	}

	switch c.Hardware.Backend {
	case "mock", "gpio", "serial":
	default:
		return fmt.Errorf("unknown hardware backend %q", c.Hardware.Backend)
	}
	return nil
}
