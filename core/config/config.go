package config

import (
	"os"
	"strings"
	"time"

	"dsphmm/common"
	"dsphmm/core/ml"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "hmm"
	EnvConfigPath  = "HMM_CFG_PATH"
	ConfigFileName = "hmm_config"
)

type LogSection struct {
	Level          string
	Path           string
	Console        bool
	ShowLine       bool
	RotationMaxAge int
	RotationTime   int
	RotationSize   int
	BriefMode      string
}

type TrainSection struct {
	Iterations int
	Workers    int
	Tolerance  float64
}

type ClassifySection struct {
	Method  string
	Workers int
}

type ServerSection struct {
	ListenAddr        string
	MetricsAddr       string
	HealthCheck       bool
	MaxRecvMsgSize    int
	MaxSendMsgSize    int
	ConnectionTimeout time.Duration
	TLSCertFile       string
	TLSKeyFile        string
}

type LocalConfig struct {
	// Path is the config file that was read, empty when none was found.
	Path string

	Log      LogSection
	Alphabet string
	Train    TrainSection
	Classify ClassifySection
	Server   ServerSection
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.path", "")
	v.SetDefault("log.console", true)
	v.SetDefault("log.show_line", false)
	v.SetDefault("log.rotation_max_age", 7)
	v.SetDefault("log.rotation_time", 24)
	v.SetDefault("log.rotation_size", 30)
	v.SetDefault("log.brief_mode", "")

	v.SetDefault("model.alphabet", ml.DefaultSymbols)

	v.SetDefault("train.iterations", 100)
	v.SetDefault("train.workers", 1)
	v.SetDefault("train.tolerance", 0.0)

	v.SetDefault("classify.method", string(ml.ScoreForward))
	v.SetDefault("classify.workers", 1)

	v.SetDefault("server.listen_addr", "127.0.0.1:7050")
	v.SetDefault("server.metrics_addr", "127.0.0.1:9150")
	v.SetDefault("server.health_check", true)
	v.SetDefault("server.max_recv_msg_size", common.GRPCDefaultMaxRecvMsgSize)
	v.SetDefault("server.max_send_msg_size", common.GRPCDefaultMaxSendMsgSize)
	v.SetDefault("server.connection_timeout", common.DefaultConnectionTimeout)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")
}

// InitLocalConfig loads the configuration of cmd.
//
// The file given by --config is used when set, otherwise hmm_config.yaml is looked
// up in $HMM_CFG_PATH or the working directory. Only a missing default file is
// tolerated. HMM_* variables override file values, e.g. HMM_TRAIN_WORKERS.
func InitLocalConfig(cmd *cobra.Command) (*LocalConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)

	altPath := os.Getenv(EnvConfigPath)
	if altPath == "" {
		altPath = "."
	}
	flag := cmd.Flags().Lookup("config")
	if flag == nil {
		return nil, errors.Errorf("command %s has no config flag", cmd.Name())
	}
	cmdSetConfigFile := flag.Value.String()
	v.AddConfigPath(altPath)
	v.SetConfigName(ConfigFileName)
	if cmdSetConfigFile != "" {
		v.SetConfigFile(cmdSetConfigFile)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cmdSetConfigFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	lc := &LocalConfig{
		Path: v.ConfigFileUsed(),
		Log: LogSection{
			Level:          v.GetString("log.level"),
			Path:           v.GetString("log.path"),
			Console:        v.GetBool("log.console"),
			ShowLine:       v.GetBool("log.show_line"),
			RotationMaxAge: v.GetInt("log.rotation_max_age"),
			RotationTime:   v.GetInt("log.rotation_time"),
			RotationSize:   v.GetInt("log.rotation_size"),
			BriefMode:      v.GetString("log.brief_mode"),
		},
		Alphabet: v.GetString("model.alphabet"),
		Train: TrainSection{
			Iterations: v.GetInt("train.iterations"),
			Workers:    v.GetInt("train.workers"),
			Tolerance:  v.GetFloat64("train.tolerance"),
		},
		Classify: ClassifySection{
			Method:  v.GetString("classify.method"),
			Workers: v.GetInt("classify.workers"),
		},
		Server: ServerSection{
			ListenAddr:        v.GetString("server.listen_addr"),
			MetricsAddr:       v.GetString("server.metrics_addr"),
			HealthCheck:       v.GetBool("server.health_check"),
			MaxRecvMsgSize:    v.GetInt("server.max_recv_msg_size"),
			MaxSendMsgSize:    v.GetInt("server.max_send_msg_size"),
			ConnectionTimeout: v.GetDuration("server.connection_timeout"),
			TLSCertFile:       v.GetString("server.tls_cert_file"),
			TLSKeyFile:        v.GetString("server.tls_key_file"),
		},
	}
	if err := lc.validate(); err != nil {
		return nil, err
	}
	return lc, nil
}

func (lc *LocalConfig) validate() error {
	if _, err := common.ParseLogLevel(lc.Log.Level); err != nil {
		return errors.WithMessage(err, "log.level")
	}
	if _, err := ml.NewAlphabet(lc.Alphabet); err != nil {
		return errors.WithMessage(err, "model.alphabet")
	}
	if _, err := ml.ParseScoreMethod(lc.Classify.Method); err != nil {
		return errors.WithMessage(err, "classify.method")
	}
	if lc.Train.Iterations < 0 {
		return errors.Errorf("train.iterations must not be negative, got %d", lc.Train.Iterations)
	}
	if lc.Train.Tolerance < 0 {
		return errors.Errorf("train.tolerance must not be negative, got %g", lc.Train.Tolerance)
	}
	return nil
}

// LogConfig converts the log section for common.SetLogConfig.
func (lc *LocalConfig) LogConfig() *common.LogConfig {
	lvl, _ := common.ParseLogLevel(lc.Log.Level)
	return &common.LogConfig{
		BriefMode:      strings.ToUpper(lc.Log.BriefMode),
		LogPath:        lc.Log.Path,
		LogLevel:       lvl,
		RotationMaxAge: lc.Log.RotationMaxAge,
		RotationTime:   lc.Log.RotationTime,
		RotationSize:   lc.Log.RotationSize,
		ShowLine:       lc.Log.ShowLine,
		LogInConsole:   lc.Log.Console,
	}
}

// ServerConfig converts the server section into gRPC server options.
func (lc *LocalConfig) ServerConfig() *common.GRPCServerConfig {
	return &common.GRPCServerConfig{
		ConnectionTimeout: lc.Server.ConnectionTimeout,
		SecOpts: common.SecureOptions{
			UseTLS:   lc.Server.TLSCertFile != "",
			CertFile: lc.Server.TLSCertFile,
			KeyFile:  lc.Server.TLSKeyFile,
		},
		KaOpts:             common.DefaultKeepaliveOptions,
		HealthCheckEnabled: lc.Server.HealthCheck,
		MaxRecvMsgSize:     lc.Server.MaxRecvMsgSize,
		MaxSendMsgSize:     lc.Server.MaxSendMsgSize,
	}
}

// ObservationAlphabet returns the configured alphabet, validated on load.
func (lc *LocalConfig) ObservationAlphabet() *ml.Alphabet {
	a, err := ml.NewAlphabet(lc.Alphabet)
	if err != nil {
		return ml.DefaultAlphabet()
	}
	return a
}
