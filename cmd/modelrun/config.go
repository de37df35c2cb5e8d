package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the modelrun defaults file (~/.config/modelrun/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	ModelFile     string `yaml:"model_file"`
	ModelDataFile string `yaml:"model_data_file"`

	// Engine
	NumThreads        *int `yaml:"num_threads"`
	CPUAffinityPolicy *int `yaml:"cpu_affinity_policy"`
	GPUPerfHint       *int `yaml:"gpu_perf_hint"`
	GPUPriorityHint   *int `yaml:"gpu_priority_hint"`

	OpenCLCacheFullPath string `yaml:"opencl_cache_full_path"`
	OpenCLParameterFile string `yaml:"opencl_parameter_file"`

	// Run
	Round        *int   `yaml:"round"`
	RestartRound *int   `yaml:"restart_round"`
	Benchmark    *bool  `yaml:"benchmark"`
	OutputDir    string `yaml:"output_dir"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "modelrun", "config.yaml")
}

// LoadConfig reads the defaults file at path. A missing file yields a zero
// Config; a malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyConfig copies file defaults into o for every flag that was not set
// explicitly on the command line.
func applyConfig(c *cli.Command, cfg Config, o *options) {
	setString := func(flag, v string, dst *string) {
		if v != "" && !c.IsSet(flag) {
			*dst = v
		}
	}
	setInt := func(flag string, v *int, dst *int) {
		if v != nil && !c.IsSet(flag) {
			*dst = *v
		}
	}

	setString("model_file", cfg.ModelFile, &o.modelFile)
	setString("model_data_file", cfg.ModelDataFile, &o.modelDataFile)
	setString("opencl_cache_full_path", cfg.OpenCLCacheFullPath, &o.openclCacheFullPath)
	setString("opencl_parameter_file", cfg.OpenCLParameterFile, &o.openclParameterFile)
	setString("output_dir", cfg.OutputDir, &o.outputDir)
	setString("log-level", cfg.LogLevel, &o.logLevel)
	setString("log-format", cfg.LogFormat, &o.logFormat)

	setInt("num_threads", cfg.NumThreads, &o.numThreads)
	setInt("cpu_affinity_policy", cfg.CPUAffinityPolicy, &o.cpuAffinity)
	setInt("gpu_perf_hint", cfg.GPUPerfHint, &o.gpuPerfHint)
	setInt("gpu_priority_hint", cfg.GPUPriorityHint, &o.gpuPriorityHint)
	setInt("round", cfg.Round, &o.round)
	setInt("restart_round", cfg.RestartRound, &o.restartRound)

	if cfg.Benchmark != nil && !c.IsSet("benchmark") {
		o.benchmark = *cfg.Benchmark
	}
}
