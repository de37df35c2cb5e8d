package main

import (
	"strings"

	"github.com/urfave/cli/v3"
)

// options mirrors the command line. It is read once by buildConfig and not
// consulted afterwards.
type options struct {
	configPath string

	modelName string

	inputNode        string
	inputShape       string
	outputNode       string
	outputShape      string
	inputDataType    string
	outputDataType   string
	inputDataFormat  string
	outputDataFormat string

	inputFile  string
	outputFile string
	inputDir   string
	outputDir  string

	modelFile     string
	modelDataFile string

	openclCacheFullPath    string
	openclBinaryFile       string
	openclParameterFile    string
	openclCacheReusePolicy int
	apuBinaryFile          string
	apuStorageFile         string
	apuCachePolicy         int

	round            int
	restartRound     int
	mallocCheckCycle int
	gpuPerfHint      int
	gpuPriorityHint  int
	numThreads       int
	cpuAffinity      int
	benchmark        bool
	report           string

	logLevel  string
	logFormat string
	debug     bool
}

// dashed returns the dashed spelling of an underscore flag name as its
// alias.
func dashed(name string) []string {
	if !strings.Contains(name, "_") {
		return nil
	}
	return []string{strings.ReplaceAll(name, "_", "-")}
}

func stringFlag(name, usage, value string, dst *string) *cli.StringFlag {
	return &cli.StringFlag{Name: name, Aliases: dashed(name), Usage: usage, Value: value, Destination: dst}
}

func intFlag(name, usage string, value int, dst *int) *cli.IntFlag {
	return &cli.IntFlag{Name: name, Aliases: dashed(name), Usage: usage, Value: value, Destination: dst}
}

func runFlags(o *options) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to a YAML defaults file",
			Value:       configPath(),
			Destination: &o.configPath,
		},
		stringFlag("model_name", "model name, used in logs and reports", "", &o.modelName),

		stringFlag("input_node", "input nodes, separated by comma", "", &o.inputNode),
		stringFlag("input_shape", "input shapes, separated by colon and comma", "", &o.inputShape),
		stringFlag("output_node", "output nodes, separated by comma", "", &o.outputNode),
		stringFlag("output_shape", "output shapes, separated by colon and comma", "", &o.outputShape),
		stringFlag("input_data_type", "input data types, float32|float16|bfloat16|int32", "float32", &o.inputDataType),
		stringFlag("output_data_type", "output data types, float32|float16|bfloat16|int32", "float32", &o.outputDataType),
		stringFlag("input_data_format", "input data formats, NONE|NHWC|NCHW|OIHW", "NHWC", &o.inputDataFormat),
		stringFlag("output_data_format", "output data formats, NONE|NHWC|NCHW|OIHW", "NHWC", &o.outputDataFormat),

		stringFlag("input_file", "input file prefix; files are named <prefix>_<node>", "", &o.inputFile),
		stringFlag("output_file", "output file prefix; files are named <prefix>_<node>", "", &o.outputFile),
		stringFlag("input_dir", "input directory; enables batch mode", "", &o.inputDir),
		stringFlag("output_dir", "output directory for batch mode", "output", &o.outputDir),

		stringFlag("model_file", "serialized graph file", "", &o.modelFile),
		stringFlag("model_data_file", "model weights file", "", &o.modelDataFile),

		stringFlag("opencl_cache_full_path", "GPU program cache path", "", &o.openclCacheFullPath),
		stringFlag("opencl_binary_file", "compiled GPU binary path (superseded by opencl_cache_full_path)", "", &o.openclBinaryFile),
		stringFlag("opencl_parameter_file", "tuned GPU parameter file path", "", &o.openclParameterFile),
		intFlag("opencl_cache_reuse_policy", "0:NONE/1:REUSE_SAME_GPU", 1, &o.openclCacheReusePolicy),
		stringFlag("apu_binary_file", "accelerator init cache to load", "", &o.apuBinaryFile),
		stringFlag("apu_storage_file", "accelerator init cache to store", "", &o.apuStorageFile),
		intFlag("apu_cache_policy", "0:NONE/1:STORE/2:LOAD", 0, &o.apuCachePolicy),

		intFlag("round", "number of timed rounds", 1, &o.round),
		intFlag("restart_round", "number of times the whole run is repeated", 1, &o.restartRound),
		intFlag("malloc_check_cycle", "log memory statistics every N rounds, -1 to disable", -1, &o.mallocCheckCycle),
		intFlag("gpu_perf_hint", "0:DEFAULT/1:LOW/2:NORMAL/3:HIGH", 3, &o.gpuPerfHint),
		intFlag("gpu_priority_hint", "0:DEFAULT/1:LOW/2:NORMAL/3:HIGH", 3, &o.gpuPriorityHint),
		intFlag("num_threads", "number of CPU threads, -1 for the engine default", -1, &o.numThreads),
		intFlag("cpu_affinity_policy", "0:NONE/1:PERFORMANCE_ONLY/2:EFFICIENCY_ONLY", 1, &o.cpuAffinity),
		&cli.BoolFlag{
			Name:        "benchmark",
			Usage:       "collect and print per-operator statistics",
			Destination: &o.benchmark,
		},
		&cli.StringFlag{
			Name:        "report",
			Usage:       "write a JSON copy of the summary to this path",
			Destination: &o.report,
		},
	}
}

func loggingFlags(o *options) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &o.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &o.logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &o.debug,
		},
	}
}
