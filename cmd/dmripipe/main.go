package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dmripipe/pkg/config"
	"dmripipe/pkg/layout"
	"dmripipe/pkg/nifti"
	"dmripipe/pkg/notify"
	"dmripipe/pkg/pipeline"
	"dmripipe/pkg/preprocessing"
	"dmripipe/pkg/provenance"
	"dmripipe/pkg/reconstruction"
	"dmripipe/pkg/runner"
	"dmripipe/pkg/visualization"
)

var rootCmd = &cobra.Command{
	Use:   "dmripipe",
	Short: "Diffusion MRI pipeline stages",
	Long: `dmripipe drives the diffusion stages of a connectome mapping run.
- preprocess: prepares the toolkit environment and the run's directory tree.
- reconstruct: resamples the diffusion series and reconstructs DSI, DTI or QBALL
  with the external diffusion toolkit; DSI also gets ADC and kurtosis maps.
- Every stage declares the files it consumes and promises in a provenance store.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DMRIPIPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "dmripipe.yaml", "run configuration file")
	rootCmd.PersistentFlags().String("project-dir", "", "run root (overrides project_dir)")
	rootCmd.PersistentFlags().String("db", "", "provenance database (default <project_dir>/LOG/provenance.db)")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().Duration("timeout", 0, "per-command timeout, 0 for none")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	for _, name := range []string{"config", "project-dir", "db", "log-level", "timeout", "json"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(preprocessCmd())
	rootCmd.AddCommand(reconstructCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(provenanceCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(configCmd())
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run preprocessing and reconstruction",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRun(cmd.Context(), func(ctx context.Context, env runEnv) error {
				res, err := pipeline.Run(ctx, env.cfg, pipeline.Deps{
					FS:       afero.NewOsFs(),
					Runner:   env.runner,
					Store:    env.store,
					Notifier: notify.LogNotifier{Log: env.log},
				}, env.log)
				if res != nil && res.Reconstruction != nil {
					printSteps(res.Reconstruction)
				}
				return err
			})
		},
	}
}

func preprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preprocess",
		Short: "Prepare the environment and provision the directory tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRun(cmd.Context(), func(ctx context.Context, env runEnv) error {
				rep, err := preprocessing.New(afero.NewOsFs(), env.runner).Run(ctx, env.cfg, env.log)
				if err != nil {
					return err
				}
				if n := len(rep.Layout.Failed); n > 0 {
					fmt.Fprintf(os.Stderr, "%d directories could not be created, see the run log\n", n)
				}
				return nil
			})
		},
	}
}

func reconstructCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconstruct",
		Short: "Run the diffusion reconstruction stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRun(cmd.Context(), func(ctx context.Context, env runEnv) error {
				stage := reconstruction.New(afero.NewOsFs(), env.runner, env.store)
				stage.Notifier = notify.LogNotifier{Log: env.log}
				rep, err := stage.Execute(ctx, env.cfg, env.log)
				if rep != nil {
					printSteps(rep)
				}
				return err
			})
		},
	}
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the directory plan of the run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fsys := afero.NewOsFs()
			plan := layout.Build(cfg)
			if viper.GetBool("json") {
				return printJSON(plan)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Directory", "Present"})
			for _, dir := range plan {
				ok, _ := afero.DirExists(fsys, dir)
				tw.AppendRow(table.Row{dir, ok})
			}
			tw.Render()
			return nil
		},
	}
}

func provenanceCmd() *cobra.Command {
	var runID, stage string
	cmd := &cobra.Command{
		Use:   "provenance",
		Short: "List the files declared by a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := provenance.OpenDB(ctx, dbPath(cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			if runID == "" {
				if runID, err = provenance.LatestRun(ctx, db); err != nil {
					return err
				}
			}
			recs, err := provenance.RecordsForRun(ctx, db, runID, stage)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(recs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.SetTitle("run " + runID)
			tw.AppendHeader(table.Row{"Stage", "Direction", "Name", "File", "Directory"})
			for _, r := range recs {
				tw.AppendRow(table.Row{r.Stage, r.Direction, r.Name, r.Filename, r.Directory})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default latest)")
	cmd.Flags().StringVar(&stage, "stage", reconstruction.Name, "stage name")
	return cmd
}

func snapshotCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "snapshot [map.nii ...]",
		Short: "Render central slices of scalar maps as PNG",
		Long: `Renders the central sagittal, coronal and axial slice of each map.
Without arguments every dsi_ADC*/dsi_Ku* map of the run is rendered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fsys := afero.NewOsFs()
			if len(args) == 0 {
				for _, pattern := range []string{"dsi_ADC*.nii", "dsi_Ku*.nii"} {
					matches, err := afero.Glob(fsys, filepath.Join(cfg.ReconOutDir(), pattern))
					if err != nil {
						return err
					}
					args = append(args, matches...)
				}
			}
			if len(args) == 0 {
				return fmt.Errorf("no scalar maps found in %s", cfg.ReconOutDir())
			}
			if outDir == "" {
				outDir = filepath.Join(cfg.StatsDir(), "qc")
			}
			for _, path := range args {
				vol, _, err := nifti.ReadVolume(fsys, path)
				if err != nil {
					return err
				}
				prefix := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".gz"), ".nii")
				written, err := visualization.NewViewer(vol).SaveMidSlices(fsys, outDir, prefix)
				if err != nil {
					return err
				}
				for _, w := range written {
					fmt.Println(w)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default <project_dir>/STATS/qc)")
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage the run configuration"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s run under %s\n", viper.GetString("config"), cfg.Modality, cfg.ProjectDir)
			return nil
		},
	})
	return cfgCmd
}

// --- helpers ---

type runEnv struct {
	cfg    *config.Config
	log    *slog.Logger
	runner runner.Runner
	store  *provenance.SQLiteStore
}

// withRun loads and validates the configuration, opens the run log and the
// provenance store, and calls fn.
func withRun(ctx context.Context, fn func(context.Context, runEnv) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := provenance.OpenSQLite(ctx, dbPath(cfg))
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("provenance run", "run_id", store.RunID, "db", dbPath(cfg))

	r := &runner.ExecRunner{Timeout: viper.GetDuration("timeout")}
	return fn(ctx, runEnv{cfg: cfg, log: log, runner: r, store: store})
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if dir := viper.GetString("project-dir"); dir != "" {
		cfg.ProjectDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func dbPath(cfg *config.Config) string {
	if p := viper.GetString("db"); p != "" {
		return p
	}
	return filepath.Join(cfg.LogDir(), "provenance.db")
}

// newLogger writes to stderr and to the run log under the log directory.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return nil, nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir(), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(cfg.LogDir(), "pipeline.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	h := slog.NewTextHandler(io.MultiWriter(os.Stderr, f), &slog.HandlerOptions{Level: level})
	return slog.New(h), func() { f.Close() }, nil
}

func printSteps(rep *reconstruction.Report) {
	if viper.GetBool("json") {
		type stepRow struct {
			Name    string `json:"name"`
			Outcome string `json:"outcome"`
			Error   string `json:"error,omitempty"`
		}
		rows := make([]stepRow, 0, len(rep.Journal.Results))
		for _, r := range rep.Journal.Results {
			row := stepRow{Name: r.Name, Outcome: string(r.Outcome)}
			if r.Err != nil {
				row.Error = r.Err.Error()
			}
			rows = append(rows, row)
		}
		_ = printJSON(map[string]any{"modality": rep.Modality, "state": rep.State.String(), "steps": rows})
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(fmt.Sprintf("%s %s: %s", reconstruction.Name, rep.Modality, rep.State))
	tw.AppendHeader(table.Row{"Step", "Outcome", "Detail"})
	for _, r := range rep.Journal.Results {
		detail := ""
		if r.Err != nil {
			detail = r.Err.Error()
		}
		tw.AppendRow(table.Row{r.Name, r.Outcome, detail})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
