/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Shared utilities for the fuzzer commands. Loads configuration from file
and environment, sets up logging and turns viper settings into a session configuration.
*/

package commands

import (
	"fmt"
	"strings"

	"github.com/kleascm/akaylee-greybox/pkg/core"
	"github.com/kleascm/akaylee-greybox/pkg/interfaces"
	"github.com/kleascm/akaylee-greybox/pkg/logging"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration from files and environment
func LoadConfig() error {
	// Set config file if specified
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("AKAYLEE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return nil
}

// SetupLogging configures the logging system. The caller closes the returned logger.
func SetupLogging() (*logging.Logger, error) {
	logger, err := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.LogLevel(viper.GetString("log_level")),
		Format:    logging.LogFormat(viper.GetString("log_format")),
		OutputDir: viper.GetString("log_dir"),
		MaxFiles:  viper.GetInt("log_max_files"),
		Timestamp: true,
		Colors:    true,
	})
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// SessionConfigFrom builds a session configuration from v. Unset keys keep their defaults.
func SessionConfigFrom(v *viper.Viper) (*core.SessionConfig, error) {
	config := core.DefaultSessionConfig()

	config.TargetPath = v.GetString("target_path")
	if v.GetBool("random") {
		config.Mode = interfaces.ModeRandom
	}
	if v.IsSet("iterations") {
		config.Iterations = v.GetInt("iterations")
	}
	if v.IsSet("timeout") {
		config.Timeout = v.GetDuration("timeout")
	}
	if v.IsSet("min_input") {
		config.MinInput = v.GetInt32("min_input")
	}
	if v.IsSet("max_input") {
		config.MaxInput = v.GetInt32("max_input")
	}
	config.Seed = v.GetInt64("seed")

	for key, dst := range map[string]*string{
		"corpus_dir":   &config.CorpusDir,
		"output_dir":   &config.OutputDir,
		"progress_log": &config.ProgressLog,
		"report_path":  &config.ReportPath,
	} {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	config.Resume = v.GetBool("resume")
	if v.IsSet("nonzero_exit_policy") {
		config.NonZeroExitPolicy = core.NonZeroExitPolicy(v.GetString("nonzero_exit_policy"))
	}

	if v.IsSet("evolution.population_size") {
		config.Evolution.PopulationSize = v.GetInt("evolution.population_size")
	}
	if v.IsSet("evolution.tournament_size") {
		config.Evolution.TournamentSize = v.GetInt("evolution.tournament_size")
	}
	if v.IsSet("evolution.mutation_rate") {
		config.Evolution.MutationRate = v.GetFloat64("evolution.mutation_rate")
	}
	if v.IsSet("evolution.crossover_rate") {
		config.Evolution.CrossoverRate = v.GetFloat64("evolution.crossover_rate")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
