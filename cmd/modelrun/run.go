package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/modelrun/internal/bootstrap"
	"github.com/samcharles93/modelrun/internal/descriptor"
	"github.com/samcharles93/modelrun/internal/engine"
	"github.com/samcharles93/modelrun/internal/harness"
	"github.com/samcharles93/modelrun/internal/logger"
	"github.com/samcharles93/modelrun/internal/modelfile"
	"github.com/samcharles93/modelrun/internal/refengine"
	"github.com/samcharles93/modelrun/internal/version"
)

const (
	envStoragePath     = "MODELRUN_INTERNAL_STORAGE_PATH"
	defaultStoragePath = "/data/local/tmp/modelrun/interior"
)

func runModel(ctx context.Context, cmd *cli.Command, o *options) error {
	if len(descriptor.ParseNames(o.inputNode)) == 0 || len(descriptor.ParseNames(o.outputNode)) == 0 {
		return cli.ShowAppHelp(cmd)
	}

	fileCfg, err := LoadConfig(o.configPath)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	applyConfig(cmd, fileCfg, o)

	log := logger.FromOptions(logger.Options{
		Level:  o.logLevel,
		Format: o.logFormat,
		Debug:  o.debug,
		Writer: cmd.Root().ErrWriter,
	})
	logOptions(log, o)

	cfg, engCfg, err := buildConfig(o, log)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	factory := refengine.Factory{Log: log}
	for round := range o.restartRound {
		runID := uuid.NewString()
		rlog := log.With("run_id", runID, "restart_round", round)
		cfg.RunID = runID
		if err := runOnce(ctx, cmd, factory, cfg, engCfg, o, rlog); err != nil {
			rlog.Error("run failed", "error", err)
			return cli.Exit(err.Error(), 1)
		}
	}
	return nil
}

// runOnce maps the model files and drives one full harness pass with a
// fresh engine.
func runOnce(ctx context.Context, cmd *cli.Command, f refengine.Factory, cfg harness.Config, engCfg engine.Config, o *options, log logger.Logger) error {
	files, err := modelfile.Load(o.modelFile, o.modelDataFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := files.Close(); err != nil {
			log.Warn("close model files", "error", err)
		}
	}()
	log.Debug("model files mapped", "graph", files.Graph.Path(), "graph_bytes", files.Graph.Len(),
		"weights", files.Weights.Path(), "weight_bytes", files.Weights.Len())

	m := engine.Model{
		Name:        cfg.ModelName,
		Graph:       files.Graph.Data(),
		Weights:     files.Weights.Data(),
		InputNames:  cfg.InputNames(),
		OutputNames: cfg.OutputNames(),
	}
	f.Log = log
	ctrl := bootstrap.NewController(f, m, engCfg, bootstrap.Unbounded(), log)
	defer func() {
		if err := ctrl.Close(); err != nil {
			log.Warn("close engine", "error", err)
		}
	}()

	d := &harness.Driver{
		Config:     cfg,
		Controller: ctrl,
		Prober:     f,
		Log:        log,
		Out:        cmd.Root().Writer,
	}
	if _, err := d.Run(logger.WithContext(ctx, log)); err != nil {
		return err
	}
	return nil
}

// buildConfig resolves options into the immutable harness and engine
// configuration. Every descriptor error surfaces here, before any file is
// opened.
func buildConfig(o *options, log logger.Logger) (harness.Config, engine.Config, error) {
	inputs, unknownIn, err := descriptor.Parse(o.inputNode, o.inputShape, o.inputDataType, o.inputDataFormat)
	if err != nil {
		return harness.Config{}, engine.Config{}, fmt.Errorf("inputs: %w", err)
	}
	outputs, unknownOut, err := descriptor.Parse(o.outputNode, o.outputShape, o.outputDataType, o.outputDataFormat)
	if err != nil {
		return harness.Config{}, engine.Config{}, fmt.Errorf("outputs: %w", err)
	}
	for _, tok := range append(unknownIn, unknownOut...) {
		log.Warn("unrecognized data type, using float32", "type", tok)
	}

	affinity, err := engine.ParseAffinity(o.cpuAffinity)
	if err != nil {
		return harness.Config{}, engine.Config{}, err
	}
	perf, err := engine.ParseHint(o.gpuPerfHint)
	if err != nil {
		return harness.Config{}, engine.Config{}, fmt.Errorf("gpu_perf_hint: %w", err)
	}
	prio, err := engine.ParseHint(o.gpuPriorityHint)
	if err != nil {
		return harness.Config{}, engine.Config{}, fmt.Errorf("gpu_priority_hint: %w", err)
	}
	reuse, err := engine.ParseReusePolicy(o.openclCacheReusePolicy)
	if err != nil {
		return harness.Config{}, engine.Config{}, err
	}
	apu, err := engine.ParseCachePolicy(o.apuCachePolicy)
	if err != nil {
		return harness.Config{}, engine.Config{}, fmt.Errorf("apu_cache_policy: %w", err)
	}
	if o.restartRound < 1 {
		return harness.Config{}, engine.Config{}, fmt.Errorf("restart_round must be >= 1, got %d", o.restartRound)
	}

	storage := os.Getenv(envStoragePath)
	if storage == "" {
		storage = defaultStoragePath
	}

	cfg := harness.Config{
		ModelName:        o.modelName,
		Inputs:           inputs,
		Outputs:          outputs,
		InputFile:        o.inputFile,
		OutputFile:       o.outputFile,
		InputDir:         o.inputDir,
		OutputDir:        o.outputDir,
		Rounds:           o.round,
		MallocCheckCycle: o.mallocCheckCycle,
		Benchmark:        o.benchmark,
		ReportPath:       o.report,
	}
	if err := cfg.Validate(); err != nil {
		return harness.Config{}, engine.Config{}, err
	}
	engCfg := engine.Config{
		Threads:          o.numThreads,
		Affinity:         affinity,
		GPUPerfHint:      perf,
		GPUPriorityHint:  prio,
		StoragePath:      storage,
		GPUCachePath:     o.openclCacheFullPath,
		GPUBinaryPath:    o.openclBinaryFile,
		GPUParameterPath: o.openclParameterFile,
		GPUCacheReuse:    reuse,
		APUCachePolicy:   apu,
		APUBinaryPath:    o.apuBinaryFile,
		APUStoragePath:   o.apuStorageFile,
		Profiling:        o.benchmark,
	}
	return cfg, engCfg, nil
}

func logOptions(log logger.Logger, o *options) {
	log.Info("modelrun",
		"version", version.String(),
		"model_name", o.modelName,
		"input_node", o.inputNode,
		"input_shape", o.inputShape,
		"input_data_type", o.inputDataType,
		"input_data_format", o.inputDataFormat,
		"output_node", o.outputNode,
		"output_shape", o.outputShape,
		"output_data_type", o.outputDataType,
		"output_data_format", o.outputDataFormat,
		"input_file", o.inputFile,
		"output_file", o.outputFile,
		"input_dir", o.inputDir,
		"output_dir", o.outputDir,
		"model_file", o.modelFile,
		"model_data_file", o.modelDataFile,
		"apu_cache_policy", o.apuCachePolicy,
		"apu_binary_file", o.apuBinaryFile,
		"apu_storage_file", o.apuStorageFile,
		"round", o.round,
		"restart_round", o.restartRound,
		"gpu_perf_hint", o.gpuPerfHint,
		"gpu_priority_hint", o.gpuPriorityHint,
		"num_threads", o.numThreads,
		"cpu_affinity_policy", o.cpuAffinity,
		"benchmark", o.benchmark,
	)
}
