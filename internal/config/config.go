package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/datahistorian/plantfeed/internal/plantfeed"
)

const envPrefix = "PLANTFEED_"

// Config is the full service configuration. Values load from an
// optional YAML file and are overridden by PLANTFEED_* environment
// variables; per-connection-key base DSNs additionally come from
// PLANTFEED_PLANT_DSN_<KEY> variables.
type Config struct {
	ListenAddr       string            `yaml:"listen_addr"`
	CentralDSN       string            `yaml:"central_dsn"`
	PlantConnections map[string]string `yaml:"plant_connections"`
	BatchSize        int               `yaml:"batch_size"`
	SpoolDir         string            `yaml:"spool_dir"`
	JobStateFile     string            `yaml:"job_state_file"`
	JobsServiceURL   string            `yaml:"jobs_service_url"`
	MaxBodyBytes     int64             `yaml:"max_body_bytes"`
	RegistryTimeout  time.Duration     `yaml:"registry_timeout"`
	ShutdownTimeout  time.Duration     `yaml:"shutdown_timeout"`
}

func Default() Config {
	return Config{
		ListenAddr:       ":8080",
		PlantConnections: map[string]string{},
		BatchSize:        plantfeed.DefaultBatchSize,
		MaxBodyBytes:     64 << 20,
		RegistryTimeout:  5 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Load reads the YAML file at path into the defaults. An empty path
// returns the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.PlantConnections == nil {
		cfg.PlantConnections = map[string]string{}
	}
	return cfg, nil
}

// ApplyEnv overrides the loaded values from the environment.
func (c *Config) ApplyEnv() {
	stringEnv(&c.ListenAddr, "ADDR")
	stringEnv(&c.CentralDSN, "CENTRAL_DSN")
	stringEnv(&c.SpoolDir, "SPOOL_DIR")
	stringEnv(&c.JobStateFile, "JOB_STATE_FILE")
	stringEnv(&c.JobsServiceURL, "JOBS_SERVICE_URL")
	intEnv(&c.BatchSize, "BATCH_SIZE")
	int64Env(&c.MaxBodyBytes, "MAX_BODY_BYTES")
	durationEnv(&c.RegistryTimeout, "REGISTRY_TIMEOUT")
	durationEnv(&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT")

	const dsnPrefix = envPrefix + "PLANT_DSN_"
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, dsnPrefix) {
			continue
		}
		pair := strings.SplitN(strings.TrimPrefix(entry, dsnPrefix), "=", 2)
		if len(pair) != 2 || pair[0] == "" || strings.TrimSpace(pair[1]) == "" {
			continue
		}
		c.PlantConnections[strings.ToLower(pair[0])] = strings.TrimSpace(pair[1])
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.CentralDSN) == "" {
		return fmt.Errorf("central_dsn is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	return nil
}

// ResolveTenantDSN maps a registry record to a shard DSN: the record's
// connection key selects a configured base DSN and the database key
// names the database on that server.
func (c *Config) ResolveTenantDSN(record plantfeed.TenantRecord) (string, error) {
	base, ok := c.PlantConnections[strings.ToLower(record.ConnectionKey)]
	if !ok {
		return "", fmt.Errorf("no base DSN configured for connection key %q", record.ConnectionKey)
	}
	if record.DatabaseKey == "" {
		return "", fmt.Errorf("registry record for tenant %s has no database key", record.ID)
	}
	if strings.Contains(base, "://") {
		return strings.TrimRight(base, "/") + "/" + record.DatabaseKey, nil
	}
	return base + " dbname=" + record.DatabaseKey, nil
}

func stringEnv(dst *string, name string) {
	if raw := strings.TrimSpace(os.Getenv(envPrefix + name)); raw != "" {
		*dst = raw
	}
}

func intEnv(dst *int, name string) {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return
	}
	if value, err := strconv.Atoi(raw); err == nil {
		*dst = value
	}
}

func int64Env(dst *int64, name string) {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return
	}
	if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*dst = value
	}
}

func durationEnv(dst *time.Duration, name string) {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return
	}
	if value, err := time.ParseDuration(raw); err == nil {
		*dst = value
	}
}
