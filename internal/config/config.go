// Package config loads the pgkeep INI configuration (the design), applies
// the unit-suffixed type coercers, and publishes an immutable snapshot
// behind an atomic pointer so worker goroutines always read a consistent
// view — the in-process equivalent of the prior "parsed configuration
// written once into process-wide shared memory" (the design), adapted
// per the re-architecture note in the design: "Configuration becomes an
// immutable snapshot behind an atomic swap-able pointer; hot reload
// publishes a new snapshot atomically."
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// Compression names recognized by the `compression` key.
type Compression string

const (
	CompressionNone       Compression = "none"
	CompressionGzip       Compression = "gzip"
	CompressionClientGzip Compression = "client-gzip"
	CompressionServerGzip Compression = "server-gzip"
	CompressionZstd       Compression = "zstd"
	CompressionClientZstd Compression = "client-zstd"
	CompressionServerZstd Compression = "server-zstd"
	CompressionLZ4        Compression = "lz4"
	CompressionClientLZ4  Compression = "client-lz4"
	CompressionServerLZ4  Compression = "server-lz4"
	CompressionBZ2        Compression = "bz2"
	CompressionClientBZ2  Compression = "client-bz2"
)

// Encryption names recognized by the `encryption` key.
type Encryption string

const (
	EncryptionNone       Encryption = "none"
	EncryptionAES256CBC  Encryption = "aes-256-cbc"
	EncryptionAES192CBC  Encryption = "aes-192-cbc"
	EncryptionAES128CBC  Encryption = "aes-128-cbc"
	EncryptionAES256CTR  Encryption = "aes-256-ctr"
	EncryptionAES192CTR  Encryption = "aes-192-ctr"
	EncryptionAES128CTR  Encryption = "aes-128-ctr"
)

var encryptionAliases = map[string]Encryption{
	"none":           EncryptionNone,
	"aes":            EncryptionAES256CBC,
	"aes-256":        EncryptionAES256CBC,
	"aes-256-cbc":    EncryptionAES256CBC,
	"aes-192":        EncryptionAES192CBC,
	"aes-192-cbc":    EncryptionAES192CBC,
	"aes-128":        EncryptionAES128CBC,
	"aes-128-cbc":    EncryptionAES128CBC,
	"aes-256-ctr":    EncryptionAES256CTR,
	"aes-192-ctr":    EncryptionAES192CTR,
	"aes-128-ctr":    EncryptionAES128CTR,
}

// LogType/LogLevel/HugepagePolicy/ProcessTitlePolicy mirror the documented enums.
type LogType string
type LogLevel string
type HugepagePolicy string
type ProcessTitlePolicy string

const (
	LogConsole LogType = "console"
	LogFile    LogType = "file"
	LogSyslog  LogType = "syslog"

	HugepageOff HugepagePolicy = "off"
	HugepageTry HugepagePolicy = "try"
	HugepageOn  HugepagePolicy = "on"

	ProcessTitleNever   ProcessTitlePolicy = "never"
	ProcessTitleStrict  ProcessTitlePolicy = "strict"
	ProcessTitleMinimal ProcessTitlePolicy = "minimal"
	ProcessTitleVerbose ProcessTitlePolicy = "verbose"
)

// Main holds the engine-wide [main] section.
type Main struct {
	Host              string
	Port              int
	UnixSocketDir     string
	Pidfile           string
	BaseDir           string
	Workspace         string
	WALShipping       string
	HotStandby        string
	TLS               bool
	TLSCertFile       string
	TLSKeyFile        string
	TLSCAFile         string
	MetricsCertFile   string
	MetricsKeyFile    string
	MetricsCAFile     string
	Compression       Compression
	CompressionLevel  int
	Encryption        Encryption
	StorageEngine     types.StorageEngine
	Retention         types.RetentionPolicy
	RetentionInterval time.Duration
	Workers           int
	BackupMaxRate     int64
	NetworkMaxRate    int64
	BlockingTimeout   time.Duration
	AuthTimeout       time.Duration
	LogType           LogType
	LogLevel          LogLevel
	LogPath           string
	LogRotationSize   int64
	LogRotationAge    time.Duration
	LogMode           string
	LogLinePrefix     string
	Hugepage          HugepagePolicy
	ProcessTitle      ProcessTitlePolicy
}

// ServerConfig is a [server <name>] section; zero values mean "inherit
// from Main". This package does not perform that merge; the daemon's
// effectiveServer does.
type ServerConfig struct {
	Name string

	Host     string
	Port     int
	User     string

	Workers        int
	BackupMaxRate  int64
	NetworkMaxRate int64
	Retention      types.RetentionPolicy
	HotStandby     string
	Compression    Compression
	CompressionLvl int
	HasCompression bool
}

// Config is the fully parsed configuration: Main plus every server.
type Config struct {
	Main    Main
	Servers map[string]*ServerConfig
	// Source is the raw key->value map per section, kept for live-reload
	// diffing and for serialize/reparse round-trip tests (the design).
	Source map[string]map[string]string
}

// Load parses path as the pgkeep INI configuration. $NAME sequences
// inside values are expanded against the process environment; $HOME
// resolves through os.UserHomeDir, falling back to the environment.
func Load(path string) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return nil, pgerrors.Wrap(pgerrors.ConfigInvalid, "cannot parse INI file", err).WithPath(path)
	}

	cfg := &Config{Servers: map[string]*ServerConfig{}, Source: map[string]map[string]string{}}

	mainSection := f.Section("main")
	cfg.Source["main"] = sectionMap(mainSection)
	if cfg.Main, err = parseMain(mainSection); err != nil {
		return nil, err
	}

	for _, sec := range f.Sections() {
		name := sec.Name()
		if !strings.HasPrefix(name, "server ") && !strings.HasPrefix(name, `server "`) {
			continue
		}
		serverName := strings.TrimSpace(strings.TrimPrefix(name, "server"))
		serverName = strings.Trim(serverName, `"`)
		cfg.Source[name] = sectionMap(sec)
		sc, err := parseServer(serverName, sec)
		if err != nil {
			return nil, err
		}
		cfg.Servers[serverName] = sc
	}

	return cfg, nil
}

func sectionMap(sec *ini.Section) map[string]string {
	out := map[string]string{}
	for _, k := range sec.Keys() {
		out[k.Name()] = expandEnv(k.Value())
	}
	return out
}

func expandEnv(v string) string {
	return os.Expand(v, func(name string) string {
		if name == "HOME" {
			if h, err := os.UserHomeDir(); err == nil {
				return h
			}
		}
		return os.Getenv(name)
	})
}

func parseMain(sec *ini.Section) (Main, error) {
	var m Main
	var err error

	m.Host = sec.Key("host").String()
	if m.Port, err = intOr(sec, "port", 5432); err != nil {
		return m, err
	}
	m.UnixSocketDir = sec.Key("unix_socket_dir").String()
	m.Pidfile = sec.Key("pidfile").String()
	m.BaseDir = sec.Key("base_dir").String()
	m.Workspace = sec.Key("workspace").String()
	m.WALShipping = sec.Key("wal_shipping").String()
	m.HotStandby = sec.Key("hot_standby").String()

	m.TLS = sec.Key("tls").MustBool(false)
	m.TLSCertFile = sec.Key("tls_cert_file").String()
	m.TLSKeyFile = sec.Key("tls_key_file").String()
	m.TLSCAFile = sec.Key("tls_ca_file").String()
	m.MetricsCertFile = sec.Key("metrics_cert_file").String()
	m.MetricsKeyFile = sec.Key("metrics_key_file").String()
	m.MetricsCAFile = sec.Key("metrics_ca_file").String()

	compRaw := sec.Key("compression").MustString("none")
	m.Compression = Compression(compRaw)
	if m.CompressionLevel, err = intOr(sec, "compression_level", defaultCompressionLevel(m.Compression)); err != nil {
		return m, err
	}
	if m.CompressionLevel, err = clampCompressionLevel(m.Compression, m.CompressionLevel); err != nil {
		return m, err
	}

	encRaw := strings.ToLower(sec.Key("encryption").MustString("none"))
	enc, ok := encryptionAliases[encRaw]
	if !ok {
		return m, pgerrors.New(pgerrors.ConfigInvalid, fmt.Sprintf("unknown encryption %q", encRaw))
	}
	m.Encryption = enc

	if m.StorageEngine, err = parseStorageEngine(sec.Key("storage_engine").String()); err != nil {
		return m, err
	}

	if m.Retention, err = ParseRetention(sec.Key("retention").MustString("-,-,-,-")); err != nil {
		return m, err
	}
	if m.RetentionInterval, err = durationOr(sec, "retention_interval", "s", time.Hour); err != nil {
		return m, err
	}

	if m.Workers, err = intOr(sec, "workers", 1); err != nil {
		return m, err
	}
	if m.BackupMaxRate, err = byteSizeOr(sec, "backup_max_rate", 0); err != nil {
		return m, err
	}
	if m.NetworkMaxRate, err = byteSizeOr(sec, "network_max_rate", 0); err != nil {
		return m, err
	}
	if m.BlockingTimeout, err = durationOr(sec, "blocking_timeout", "s", 30*time.Second); err != nil {
		return m, err
	}
	if m.AuthTimeout, err = durationOr(sec, "authentication_timeout", "s", 5*time.Second); err != nil {
		return m, err
	}

	m.LogType = LogType(sec.Key("log_type").MustString("console"))
	m.LogLevel = LogLevel(sec.Key("log_level").MustString("info"))
	m.LogPath = sec.Key("log_path").String()
	if m.LogRotationSize, err = byteSizeOr(sec, "log_rotation_size", 0); err != nil {
		return m, err
	}
	if m.LogRotationAge, err = durationOr(sec, "log_rotation_age", "d", 0); err != nil {
		return m, err
	}
	m.LogMode = sec.Key("log_mode").MustString("append")
	m.LogLinePrefix = sec.Key("log_line_prefix").String()

	m.Hugepage = HugepagePolicy(sec.Key("hugepage").MustString("off"))
	m.ProcessTitle = ProcessTitlePolicy(sec.Key("update_process_title").MustString("minimal"))

	return m, nil
}

func parseServer(name string, sec *ini.Section) (*ServerConfig, error) {
	sc := &ServerConfig{Name: name}
	sc.Host = sec.Key("host").String()
	sc.Port = sec.Key("port").MustInt(0)
	sc.User = sec.Key("user").String()

	if sec.HasKey("workers") {
		sc.Workers = sec.Key("workers").MustInt(0)
	}
	if sec.HasKey("backup_max_rate") {
		v, err := byteSizeOr(sec, "backup_max_rate", 0)
		if err != nil {
			return nil, err
		}
		sc.BackupMaxRate = v
	}
	if sec.HasKey("network_max_rate") {
		v, err := byteSizeOr(sec, "network_max_rate", 0)
		if err != nil {
			return nil, err
		}
		sc.NetworkMaxRate = v
	}
	if sec.HasKey("retention") {
		r, err := ParseRetention(sec.Key("retention").String())
		if err != nil {
			return nil, err
		}
		sc.Retention = r
	}
	sc.HotStandby = sec.Key("hot_standby").String()
	if sec.HasKey("compression") {
		sc.Compression = Compression(sec.Key("compression").String())
		sc.HasCompression = true
		lvl, err := intOr(sec, "compression_level", defaultCompressionLevel(sc.Compression))
		if err != nil {
			return nil, err
		}
		if sc.CompressionLvl, err = clampCompressionLevel(sc.Compression, lvl); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

func parseStorageEngine(raw string) (types.StorageEngine, error) {
	if raw == "" {
		return types.EngineLocal, nil
	}
	var out types.StorageEngine
	for _, part := range strings.Split(raw, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "local":
			out |= types.EngineLocal
		case "ssh":
			out |= types.EngineSSH
		case "s3":
			out |= types.EngineS3
		case "azure":
			out |= types.EngineAzure
		case "":
		default:
			return 0, pgerrors.New(pgerrors.ConfigInvalid, fmt.Sprintf("unknown storage_engine %q", part))
		}
	}
	return out, nil
}

// ParseRetention parses the comma-separated days,weeks,months,years
// quadruple; "-", "x", "X" mean disabled (-1), .
func ParseRetention(raw string) (types.RetentionPolicy, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return types.RetentionPolicy{}, pgerrors.New(pgerrors.ConfigInvalid,
			fmt.Sprintf("retention must have 4 comma-separated fields, got %q", raw))
	}
	vals := make([]int, 4)
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "-" || p == "x" || p == "X" {
			vals[i] = -1
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return types.RetentionPolicy{}, pgerrors.Wrap(pgerrors.ConfigInvalid, "invalid retention field", err)
		}
		vals[i] = n
	}
	return types.RetentionPolicy{Days: vals[0], Weeks: vals[1], Months: vals[2], Years: vals[3]}, nil
}

func defaultCompressionLevel(c Compression) int {
	switch {
	case strings.Contains(string(c), "gzip"):
		return 6
	case strings.Contains(string(c), "zstd"):
		return 3
	case strings.Contains(string(c), "lz4"):
		return 1
	case strings.Contains(string(c), "bz2"):
		return 9
	default:
		return 0
	}
}

// clampCompressionLevel enforces the per-algorithm ranges from the design:
// gzip 1-9, zstd -131072..22, lz4 1-12, bz2 1-9.
func clampCompressionLevel(c Compression, level int) (int, error) {
	name := string(c)
	switch {
	case strings.Contains(name, "gzip"):
		return clamp(level, 1, 9), nil
	case strings.Contains(name, "zstd"):
		return clamp(level, -131072, 22), nil
	case strings.Contains(name, "lz4"):
		return clamp(level, 1, 12), nil
	case strings.Contains(name, "bz2"):
		return clamp(level, 1, 9), nil
	case name == "none" || name == "":
		return 0, nil
	default:
		return 0, pgerrors.New(pgerrors.ConfigInvalid, fmt.Sprintf("unknown compression %q", name))
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func intOr(sec *ini.Section, key string, def int) (int, error) {
	if !sec.HasKey(key) {
		return def, nil
	}
	return sec.Key(key).Int()
}

// byteSizeOr parses a value with optional b/k/m/g unit suffix into a byte
// count, per the "suffixed units (b/k/m/g; ...)".
func byteSizeOr(sec *ini.Section, key string, def int64) (int64, error) {
	if !sec.HasKey(key) {
		return def, nil
	}
	return ParseByteSize(sec.Key(key).String())
}

// ParseByteSize parses a string like "512m" or "2g" into a byte count.
func ParseByteSize(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	mult := int64(1)
	suffix := raw[len(raw)-1]
	numeric := raw
	switch suffix {
	case 'b', 'B':
		mult = 1
		numeric = raw[:len(raw)-1]
	case 'k', 'K':
		mult = 1 << 10
		numeric = raw[:len(raw)-1]
	case 'm', 'M':
		mult = 1 << 20
		numeric = raw[:len(raw)-1]
	case 'g', 'G':
		mult = 1 << 30
		numeric = raw[:len(raw)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(numeric), 10, 64)
	if err != nil {
		return 0, pgerrors.Wrap(pgerrors.ConfigInvalid, fmt.Sprintf("invalid byte size %q", raw), err)
	}
	return n * mult, nil
}

// durationOr parses a value with s/m/h/d/w unit suffix (defaultUnit used
// when no suffix is present), .
func durationOr(sec *ini.Section, key, defaultUnit string, def time.Duration) (time.Duration, error) {
	if !sec.HasKey(key) {
		return def, nil
	}
	return ParseDuration(sec.Key(key).String(), defaultUnit)
}

// ParseDuration parses a value like "30", "30s", "5m", "1d", "2w".
func ParseDuration(raw, defaultUnit string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	unit := defaultUnit
	numeric := raw
	last := raw[len(raw)-1]
	switch last {
	case 's', 'm', 'h', 'd', 'w':
		unit = string(last)
		numeric = raw[:len(raw)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(numeric), 10, 64)
	if err != nil {
		return 0, pgerrors.Wrap(pgerrors.ConfigInvalid, fmt.Sprintf("invalid duration %q", raw), err)
	}
	var unitDur time.Duration
	switch unit {
	case "s":
		unitDur = time.Second
	case "m":
		unitDur = time.Minute
	case "h":
		unitDur = time.Hour
	case "d":
		unitDur = 24 * time.Hour
	case "w":
		unitDur = 7 * 24 * time.Hour
	default:
		unitDur = time.Second
	}
	return time.Duration(n) * unitDur, nil
}
