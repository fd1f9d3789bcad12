// Package config defines the vellumd CLI surface: flags, defaults, and
// validation, grounded on the longbow example's Config/ValidateConfig
// split.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/vellumdb/vellum/hnsw"
)

// Config holds every flag-configurable setting for the vellumd binary.
type Config struct {
	Port      int
	LogPath   string
	Dimension int
	Metric    string

	Paxos  bool
	Peers  []string
	NodeID uint32

	MetricsAddr string
	LogFormat   string

	// AuditLogPath, if set, enables a secondary zstd-compressed audit trail
	// of every committed transaction, independent of the primary log.
	AuditLogPath string

	Help bool
}

// Validation errors.
var (
	ErrInvalidPort      = errors.New("config: port must be between 1 and 65535")
	ErrInvalidLogPath   = errors.New("config: log path cannot be empty")
	ErrInvalidDimension = errors.New("config: dimension must be positive")
	ErrInvalidMetric    = errors.New("config: metric must be 'euclidean' or 'cosine'")
	ErrInvalidLogFormat = errors.New("config: log-format must be 'json' or 'text'")
	ErrPaxosNeedsNodeID = errors.New("config: --paxos requires --node-id to be set to a nonzero value")
)

// Default returns a Config with the defaults named in the CLI spec.
func Default() Config {
	return Config{
		Port:      7777,
		LogPath:   "vellum.log",
		Dimension: 128,
		Metric:    "euclidean",
		LogFormat: "text",
	}
}

// Parse parses args (typically os.Args[1:]) into a Config, starting from
// Default(). It does not call Validate; callers should do that themselves
// so a --help request can be handled before validation errors are
// reported.
func Parse(args []string) (Config, error) {
	cfg := Default()
	var peers string

	fs := flag.NewFlagSet("vellumd", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on")
	fs.StringVar(&cfg.LogPath, "log", cfg.LogPath, "path to the append log file")
	fs.IntVar(&cfg.Dimension, "dimension", cfg.Dimension, "vector dimension for INSERT/SEARCH")
	fs.StringVar(&cfg.Metric, "metric", cfg.Metric, "distance metric: euclidean|cosine")
	fs.BoolVar(&cfg.Paxos, "paxos", cfg.Paxos, "enable the CAS-Paxos engine and peer listener")
	fs.StringVar(&peers, "peers", "", "comma-separated list of CAS-Paxos peer addresses (host:port)")
	fs.StringVar(&cfg.MetricsAddr, "metrics", "", "optional address for a Prometheus /metrics HTTP listener")
	fs.StringVar(&cfg.AuditLogPath, "audit-log", "", "optional path for a secondary zstd-compressed commit audit trail")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "process log format: json|text")
	fs.BoolVar(&cfg.Help, "help", false, "show usage and exit")

	var nodeID uint
	fs.UintVar(&nodeID, "node-id", 0, "this node's CAS-Paxos node id")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.NodeID = uint32(nodeID)
	if peers != "" {
		cfg.Peers = strings.Split(peers, ",")
	}

	if cfg.Help {
		fs.Usage()
	}

	return cfg, nil
}

// Validate checks cfg for internally-consistent, usable values.
func Validate(cfg Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return ErrInvalidPort
	}
	if cfg.LogPath == "" {
		return ErrInvalidLogPath
	}
	if cfg.Dimension <= 0 {
		return ErrInvalidDimension
	}
	if _, err := ParseMetric(cfg.Metric); err != nil {
		return err
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return ErrInvalidLogFormat
	}
	if cfg.Paxos && cfg.NodeID == 0 {
		return ErrPaxosNeedsNodeID
	}
	return nil
}

// ParseMetric resolves the --metric flag value to an hnsw.Metric.
func ParseMetric(name string) (hnsw.Metric, error) {
	switch strings.ToLower(name) {
	case "euclidean", "":
		return hnsw.Euclidean, nil
	case "cosine":
		return hnsw.Cosine, nil
	default:
		return 0, ErrInvalidMetric
	}
}

// Addr formats the configured listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
