package fedguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/absmach/fedguard/coordinator"
	"github.com/absmach/fedguard/pkg/cron"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/absmach/fedguard/pkg/scheduler"
	"github.com/absmach/fedguard/pkg/sim"
	"github.com/absmach/fedguard/pkg/storage"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRounds       = 10
	DefaultClients      = 10
	DefaultLocalEpochs  = 1
	DefaultRoundTimeout = 60
	DefaultBaseTopic    = "fl"
	DefaultMQTTClientID = "fedguard"
	DefaultMQTTTimeout  = 30
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Run        RunConfig      `toml:"run"        yaml:"run"`
	Defense    DefenseConfig  `toml:"defense"    yaml:"defense"`
	Simulation sim.Config     `toml:"simulation" yaml:"simulation"`
	Storage    storage.Config `toml:"storage"    yaml:"storage"`
	MQTT       MQTTConfig     `toml:"mqtt"       yaml:"mqtt"`
}

type RunConfig struct {
	// ID names the run in the history. A new one is generated when empty;
	// reusing an ID resumes that run.
	ID           string `toml:"id"              yaml:"id"`
	Rounds       uint64 `toml:"rounds"          yaml:"rounds"`
	Clients      int    `toml:"clients"         yaml:"clients"`
	LocalEpochs  int    `toml:"local_epochs"    yaml:"local_epochs"`
	Seed         uint64 `toml:"seed"            yaml:"seed"`
	Selector     string `toml:"selector"        yaml:"selector"`
	PerRound     int    `toml:"per_round"       yaml:"per_round"`
	RoundTimeout int    `toml:"round_timeout_s" yaml:"round_timeout_s"`
	MaxParallel  int    `toml:"max_parallel"    yaml:"max_parallel"`
	// Schedule is an optional cron expression; rounds start on its
	// activations instead of back to back.
	Schedule string `toml:"schedule" yaml:"schedule"`
	Timezone string `toml:"timezone" yaml:"timezone"`
}

type DefenseConfig struct {
	Scorer          string  `toml:"scorer"           yaml:"scorer"`
	Thresholder     string  `toml:"thresholder"      yaml:"thresholder"`
	MADMultiplier   float64 `toml:"mad_multiplier"   yaml:"mad_multiplier"`
	GapFactor       float64 `toml:"gap_factor"       yaml:"gap_factor"`
	SigmaMultiplier float64 `toml:"sigma_multiplier" yaml:"sigma_multiplier"`
	Weighting       string  `toml:"weighting"        yaml:"weighting"`
	InverseEpsilon  float64 `toml:"inverse_epsilon"  yaml:"inverse_epsilon"`
}

// MQTTConfig enables round notifications when URL is set.
type MQTTConfig struct {
	URL       string `toml:"url"        yaml:"url"`
	ClientID  string `toml:"client_id"  yaml:"client_id"`
	Username  string `toml:"username"   yaml:"username"`
	Password  string `toml:"password"   yaml:"password"`
	BaseTopic string `toml:"base_topic" yaml:"base_topic"`
	QoS       uint8  `toml:"qos"        yaml:"qos"`
	Timeout   int    `toml:"timeout_s"  yaml:"timeout_s"`
}

func DefaultConfig() Config {
	cfg := Config{Simulation: sim.DefaultConfig()}
	cfg.applyDefaults()

	return cfg
}

func (c *Config) applyDefaults() {
	if c.Run.Rounds == 0 {
		c.Run.Rounds = DefaultRounds
	}
	if c.Run.Clients == 0 {
		c.Run.Clients = DefaultClients
	}
	if c.Run.LocalEpochs == 0 {
		c.Run.LocalEpochs = DefaultLocalEpochs
	}
	if c.Run.Selector == "" {
		c.Run.Selector = scheduler.SelectAll
	}
	if c.Run.RoundTimeout == 0 {
		c.Run.RoundTimeout = DefaultRoundTimeout
	}

	if c.Defense.Scorer == "" {
		c.Defense.Scorer = fl.ScoreMedian
	}
	if c.Defense.Thresholder == "" {
		c.Defense.Thresholder = fl.ThresholdMAD
	}
	if c.Defense.MADMultiplier == 0 {
		c.Defense.MADMultiplier = fl.DefaultMADMultiplier
	}
	if c.Defense.GapFactor == 0 {
		c.Defense.GapFactor = fl.DefaultGapFactor
	}
	if c.Defense.SigmaMultiplier == 0 {
		c.Defense.SigmaMultiplier = fl.DefaultSigmaMultiplier
	}
	if c.Defense.Weighting == "" {
		c.Defense.Weighting = fl.WeightUniform
	}
	if c.Defense.InverseEpsilon == 0 {
		c.Defense.InverseEpsilon = fl.DefaultInverseEpsilon
	}

	sd := sim.DefaultConfig()
	if c.Simulation.Features == 0 {
		c.Simulation.Features = sd.Features
	}
	if c.Simulation.SamplesPerClient == 0 {
		c.Simulation.SamplesPerClient = sd.SamplesPerClient
	}
	if c.Simulation.TestSamples == 0 {
		c.Simulation.TestSamples = sd.TestSamples
	}
	if c.Simulation.Separation == 0 {
		c.Simulation.Separation = sd.Separation
	}
	if c.Simulation.LearningRate == 0 {
		c.Simulation.LearningRate = sd.LearningRate
	}
	if c.Simulation.Attack == "" {
		c.Simulation.Attack = sd.Attack
	}
	if c.Simulation.AttackFactor == 0 {
		c.Simulation.AttackFactor = sd.AttackFactor
	}

	if c.Storage.Type == "" {
		c.Storage.Type = storage.TypeMemory
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "./data/history"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./fedguard.db"
	}
	if c.Storage.BadgerPath == "" {
		c.Storage.BadgerPath = "./data/badger"
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultMQTTClientID
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = DefaultBaseTopic
	}
	if c.MQTT.Timeout == 0 {
		c.MQTT.Timeout = DefaultMQTTTimeout
	}
}

// LoadConfig reads a TOML file, or YAML when the extension is .yaml or
// .yml. Unset values take their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else {
		tree, err := toml.Load(string(data))
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
		if err := tree.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("error unmarshaling config: %w", err)
		}
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Marshal encodes the configuration in the format implied by path.
func (c Config) Marshal(path string) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(c)
	}

	return toml.Marshal(c)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Run.Rounds == 0 {
		errs = append(errs, errors.New("run.rounds must be positive"))
	}
	if c.Run.Clients <= 0 {
		errs = append(errs, errors.New("run.clients must be positive"))
	}
	if c.Run.LocalEpochs <= 0 {
		errs = append(errs, errors.New("run.local_epochs must be positive"))
	}
	if c.Run.RoundTimeout <= 0 {
		errs = append(errs, errors.New("run.round_timeout_s must be positive"))
	}
	if c.Run.MaxParallel < 0 {
		errs = append(errs, errors.New("run.max_parallel must not be negative"))
	}
	if _, err := c.Selector(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Pacer(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Pipeline(); err != nil {
		errs = append(errs, err)
	}
	if c.Defense.InverseEpsilon < 0 {
		errs = append(errs, errors.New("defense.inverse_epsilon must not be negative"))
	}

	if c.Simulation.Features <= 0 || c.Simulation.SamplesPerClient <= 0 || c.Simulation.TestSamples <= 0 {
		errs = append(errs, errors.New("simulation sizes must be positive"))
	}
	if c.Simulation.Byzantine < 0 || c.Simulation.Byzantine > c.Run.Clients {
		errs = append(errs, fmt.Errorf("simulation.byzantine must be between 0 and %d", c.Run.Clients))
	}
	if _, err := sim.ParseAttack(c.Simulation.Attack); err != nil {
		errs = append(errs, err)
	}

	switch c.Storage.Type {
	case storage.TypeMemory, storage.TypeFile, storage.TypeSQLite, storage.TypePostgres, storage.TypeBadger:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", storage.ErrUnsupportedType, c.Storage.Type))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1 or 2"))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}

	return nil
}

func (c Config) Pipeline() (coordinator.Pipeline, error) {
	scorer, err := fl.NewScorer(c.Defense.Scorer)
	if err != nil {
		return coordinator.Pipeline{}, err
	}
	thresholder, err := fl.NewThresholder(fl.ThresholdConfig{
		Method:          c.Defense.Thresholder,
		MADMultiplier:   c.Defense.MADMultiplier,
		GapFactor:       c.Defense.GapFactor,
		SigmaMultiplier: c.Defense.SigmaMultiplier,
	})
	if err != nil {
		return coordinator.Pipeline{}, err
	}
	allocator, err := fl.NewAllocator(c.Defense.Weighting, c.Defense.InverseEpsilon)
	if err != nil {
		return coordinator.Pipeline{}, err
	}

	return coordinator.Pipeline{
		Scorer:      scorer,
		Thresholder: thresholder,
		Allocator:   allocator,
		Aggregator:  fl.NewWeightedAggregator(),
	}, nil
}

func (c Config) Selector() (scheduler.Selector, error) {
	return scheduler.New(c.Run.Selector, c.Run.PerRound)
}

// Pacer is nil when no schedule is configured.
func (c Config) Pacer() (coordinator.Pacer, error) {
	if c.Run.Schedule == "" {
		return nil, nil
	}
	s, err := cron.Parse(c.Run.Schedule, c.Run.Timezone)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (c Config) Coordinator(runID string) coordinator.Config {
	return coordinator.Config{
		RunID:        runID,
		Rounds:       c.Run.Rounds,
		RoundTimeout: time.Duration(c.Run.RoundTimeout) * time.Second,
		MaxParallel:  c.Run.MaxParallel,
	}
}
