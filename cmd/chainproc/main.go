package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/bioimg/chainproc/internal/log"
	"github.com/bioimg/chainproc/internal/model"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var (
	userConfigPath string // /default/config/path/chainproc on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag

	flagDir      string
	flagDataType string
	flagIDs      []int64
	flagParams   []string

	flagCollection int64
	flagName       string
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "chainproc")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is chainproc.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	runCmd.Flags().StringVar(&flagDir, "dir", "", "directory holding the images to process")
	runCmd.Flags().StringVar(&flagDataType, "data-type", "Image", "select by Image or Dataset identifiers")
	runCmd.Flags().Int64SliceVar(&flagIDs, "ids", nil, "identifiers of the selected images or datasets")
	runCmd.Flags().StringArrayVar(&flagParams, "param", nil, "block parameter as name=value, repeatable")

	importCmd.Flags().Int64VarP(&flagCollection, "dataset", "d", 0, "destination dataset identifier")
	importCmd.Flags().StringVarP(&flagName, "name", "n", "", "name of the imported image")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initChainproc

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("chainproc failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "chainproc",
	Short:        "Chain orchestrator running external image processing tools",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run executes the configured block chain on the selected images",
	RunE:  doRun,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "schema prints the merged parameter schema of the configured chain",
	RunE:  doSchema,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "import publishes one image file through the configured import tool",
	Args:  cobra.ExactArgs(1),
	RunE:  doImport,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of chainproc",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("chainproc: version info not available")
		}

		if configPath != "" {
			fmt.Printf("config:    %s\n", configPath)
		}
		fmt.Printf("chainproc: %s\n", info.Main.Version)
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("chainproc",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	runner, err := NewRunner(ctx, config, RunnerOptions{
		Dir:      flagDir,
		DataType: flagDataType,
		IDs:      flagIDs,
		Params:   flagParams,
	})
	if err != nil {
		return err
	}
	return runner.Do(ctx, os.Stdout)
}

func doSchema(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	blocks, err := blocksFromConfig(ctx, config)
	if err != nil {
		return err
	}
	return printSchema(os.Stdout, blocks)
}

func doImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("chainproc",
		slog.String("cmd", "import"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	id, err := runImport(ctx, config, args[0], flagName, flagCollection)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func initChainproc(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("CHAINPROCCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "chainproc.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "chainproc.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		err = enc.Encode(config)
		if err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		loaded, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error(d)
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		config = *loaded
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	// initialize logging
	slog.SetDefault(log.New(config.Service.Verbose))

	slog.Debug("chainproc run", "configPath", configPath)
	slog.Debug("chainproc run", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
