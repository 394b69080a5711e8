package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认数据源：2014年9月纽约Uber上车记录
const DefaultDataURL = "https://s3-us-west-2.amazonaws.com/streamlit-demo-data/uber-raw-data-sep14.csv.gz"

// Config 结构体定义了应用程序的配置结构
type Config struct {
	Source struct {
		URL                string   `json:"url" yaml:"url"`                                   // 数据地址(http/https/s3/imaps/本地路径)
		RowLimit           int      `json:"row_limit" yaml:"row_limit"`                       // 默认读取行数
		InsecureSkipVerify bool     `json:"insecure_skip_verify" yaml:"insecure_skip_verify"` // 是否跳过证书校验
		Timeout            Duration `json:"timeout" yaml:"timeout"`                           // 请求超时
		Format             string   `json:"format" yaml:"format"`                             // csv / csv.gz / xlsx, 空表示按扩展名判断
		SheetName          string   `json:"sheet_name" yaml:"sheet_name"`                     // xlsx 工作表名
		S3Region           string   `json:"s3_region" yaml:"s3_region"`
		S3Endpoint         string   `json:"s3_endpoint" yaml:"s3_endpoint"`
		S3AccessKey        string   `json:"s3_access_key" yaml:"s3_access_key"` // 为空时匿名访问
		S3SecretKey        string   `json:"s3_secret_key" yaml:"s3_secret_key"`
		IMAPPassword       string   `json:"imap_password" yaml:"imap_password"` // imap(s):// 数据源的密码/授权码
	} `json:"source" yaml:"source"`

	Columns *Columns `json:"columns" yaml:"columns"`

	Server struct {
		Addr        string `json:"addr" yaml:"addr"`
		RawRows     int    `json:"raw_rows" yaml:"raw_rows"`         // 原始数据展示行数
		DefaultHour int    `json:"default_hour" yaml:"default_hour"` // 滑块默认小时
	} `json:"server" yaml:"server"`

	Map MapConfig `json:"map" yaml:"map"`

	Refresh struct {
		Schedule string `json:"schedule" yaml:"schedule"` // cron 表达式，例如 "@every 1h"
		Watch    bool   `json:"watch" yaml:"watch"`       // 本地数据源变更时清空缓存
	} `json:"refresh" yaml:"refresh"`

	LogName    string `json:"log_name" yaml:"log_name"`
	LogMaxSize string `json:"log_max_size" yaml:"log_max_size"`

	Report struct {
		Server   string   `json:"server" yaml:"server"`     // SMTP服务器地址
		Username string   `json:"username" yaml:"username"` // 发件邮箱
		Password string   `json:"password" yaml:"password"` // 密码/授权码
		To       []string `json:"to" yaml:"to"`
		Subject  string   `json:"subject" yaml:"subject"`
	} `json:"report" yaml:"report"`
}

// MapConfig 地图图层参数
type MapConfig struct {
	Zoom           float64    `json:"zoom" yaml:"zoom"`
	Pitch          float64    `json:"pitch" yaml:"pitch"`
	Radius         float64    `json:"radius" yaml:"radius"`
	ElevationScale float64    `json:"elevation_scale" yaml:"elevation_scale"`
	ElevationRange [2]float64 `json:"elevation_range" yaml:"elevation_range"`
}

// Columns 数据列名配置，读写都加锁
type Columns struct {
	mu   sync.RWMutex
	Time string `json:"time" yaml:"time"`
	Lat  string `json:"lat" yaml:"lat"`
	Lon  string `json:"lon" yaml:"lon"`
}

// Default 返回带默认值的配置
func Default() *Config {
	cfg := &Config{}
	cfg.Source.URL = DefaultDataURL
	cfg.Source.RowLimit = 10000
	cfg.Source.Timeout = Duration(30 * time.Second)
	cfg.Columns = &Columns{Time: "date/time", Lat: "lat", Lon: "lon"}
	cfg.Server.Addr = ":8501"
	cfg.Server.RawRows = 100
	cfg.Server.DefaultHour = 17
	cfg.Map = MapConfig{
		Zoom:           11,
		Pitch:          50,
		Radius:         200,
		ElevationScale: 4,
		ElevationRange: [2]float64{0, 1000},
	}
	cfg.LogName = "app.log"
	cfg.LogMaxSize = "10 * 1024 * 1024"
	cfg.Report.Subject = "Uber pickups in NYC"
	return cfg
}

// LoadConfig 读取配置文件并覆盖默认值
// 参数:
//
//	folder: 配置文件目录
//	file: 配置文件名，.yaml/.yml 按YAML解析，其余按JSON解析
//
// 返回值:
//
//	*Config: 配置
//	error: 读取或解析错误
func LoadConfig(folder, file string) (*Config, error) {
	path := filepath.Join(folder, file)

	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析YAML配置失败: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析JSON配置失败: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	var errs []error
	if c.Source.URL == "" {
		errs = append(errs, fmt.Errorf("source.url 不能为空"))
	}
	if c.Source.RowLimit <= 0 {
		errs = append(errs, fmt.Errorf("source.row_limit 必须为正整数: %d", c.Source.RowLimit))
	}
	if c.Server.DefaultHour < 0 || c.Server.DefaultHour > 23 {
		errs = append(errs, fmt.Errorf("server.default_hour 超出范围 0-23: %d", c.Server.DefaultHour))
	}
	if c.Columns == nil || c.Columns.GetTime() == "" {
		errs = append(errs, fmt.Errorf("columns.time 不能为空"))
	}
	return combineErrors(errs)
}

func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	msg := "配置校验遇到错误:"
	for _, err := range errs {
		msg = fmt.Sprintf("%s\n- %v", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON/YAML中的 "30s" 写法
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.set(s)
}

// MarshalJSON 实现json.Marshaler接口
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalYAML 实现yaml.Unmarshaler接口
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) set(s string) error {
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (c *Columns) GetTime() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Time
}

func (c *Columns) GetLat() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Lat
}

func (c *Columns) GetLon() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Lon
}

// Set 修改列名配置
func (c *Columns) Set(timeCol, latCol, lonCol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Time = timeCol
	c.Lat = latCol
	c.Lon = lonCol
}
