package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jregier/n1sim/internal/causal"
	"github.com/jregier/n1sim/internal/config"
	"github.com/jregier/n1sim/internal/dagitty"
	"github.com/jregier/n1sim/internal/dataset"
	"github.com/jregier/n1sim/internal/dropout"
	"github.com/jregier/n1sim/internal/logging"
	"github.com/jregier/n1sim/internal/random"
	"github.com/jregier/n1sim/internal/server"
	"github.com/jregier/n1sim/internal/sim"
	"github.com/jregier/n1sim/internal/store"
	"github.com/jregier/n1sim/internal/study"
	"github.com/jregier/n1sim/internal/viz"
)

var (
	dbPath     string
	configFile string
	preset     string
	designSpec string
	patients   int
	daysPer    int
	seed       int64
	startDate  string
	withDrop   bool
	hazard     float64
	maxDays    int
	vacation   int
	workers    int
	// plot / export selection
	column      string
	patient     int
	livePatient int
	cohort      string
	width       int
	height      int
	outPath     string
	// serve
	addr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "n1sim",
		Short: "n-of-1 study time series generator",
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "n1sim.db", "sqlite database path")

	runCmd := &cobra.Command{
		Use:   "run [params.json]",
		Short: "generate a cohort and store it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStudy,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "run config file (yaml)")
	runCmd.Flags().StringVar(&preset, "preset", "", "use preset study design")
	runCmd.Flags().StringVar(&designSpec, "design", "", "inline design, e.g. Treatment_1:14,-:7,Treatment_2:14")
	runCmd.Flags().IntVar(&daysPer, "days", config.DefaultDaysPerPeriod, "days per period without an explicit count")
	runCmd.Flags().IntVar(&patients, "patients", config.DefaultPatients, "cohort size")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 picks one)")
	runCmd.Flags().StringVar(&startDate, "start", "", "calendar start date (2006-01-02)")
	runCmd.Flags().BoolVar(&withDrop, "dropout", false, "also derive a dropout cohort")
	runCmd.Flags().Float64Var(&hazard, "hazard", config.DefaultHazard, "per-day dropout probability")
	runCmd.Flags().IntVar(&maxDays, "max-days", 0, "hard cap on days per patient")
	runCmd.Flags().IntVar(&vacation, "vacation", 0, "vacation window length in days")
	runCmd.Flags().IntVar(&workers, "workers", 0, "parallel patient workers (0 = all cpus)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listStudies,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show run metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored column per patient",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&column, "column", "", "column to plot (default: the outcome)")
	plotCmd.Flags().IntVar(&patient, "patient", -1, "patient id (-1 = all)")
	plotCmd.Flags().StringVar(&cohort, "cohort", store.CohortComplete, "complete or dropout")
	plotCmd.Flags().IntVar(&width, "width", 80, "chart width")
	plotCmd.Flags().IntVar(&height, "height", 10, "chart height")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run data to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVar(&cohort, "cohort", store.CohortComplete, "complete or dropout")
	exportCSVCmd.Flags().StringVar(&outPath, "out", "", "output file (default stdout)")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVar(&cohort, "cohort", store.CohortComplete, "complete or dropout")
	exportJSONCmd.Flags().StringVar(&outPath, "out", "", "output file (default stdout)")

	liveCmd := &cobra.Command{
		Use:   "live [params.json]",
		Short: "step one patient day by day",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	liveCmd.Flags().StringVar(&configFile, "config", "", "run config file (yaml)")
	liveCmd.Flags().StringVar(&preset, "preset", "", "use preset study design")
	liveCmd.Flags().StringVar(&designSpec, "design", "", "inline design, e.g. Treatment_1:14,-:7,Treatment_2:14")
	liveCmd.Flags().IntVar(&daysPer, "days", config.DefaultDaysPerPeriod, "days per period without an explicit count")
	liveCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 picks one)")
	liveCmd.Flags().IntVar(&livePatient, "patient", 0, "patient id to follow")

	paramsCmd := &cobra.Command{
		Use:   "params",
		Short: "parameter document tools",
	}
	paramsInitCmd := &cobra.Command{
		Use:   "init [dagitty.txt]",
		Short: "derive a parameter document from a dagitty graph",
		Args:  cobra.ExactArgs(1),
		RunE:  initParams,
	}
	paramsInitCmd.Flags().StringVar(&outPath, "out", "", "output file (default stdout)")
	paramsCmd.AddCommand(paramsInitCmd)

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list preset study designs",
		RunE:  listPresets,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the HTTP API",
		RunE:  serve,
	}
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")

	rootCmd.AddCommand(runCmd, listCmd, showCmd, plotCmd, exportCSVCmd, exportJSONCmd, liveCmd, paramsCmd, presetsCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveRunConfig layers preset, config file, the positional params
// path and finally any explicitly set flags into one run config.
func resolveRunConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if preset != "" {
		p := config.GetPreset(preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		c := *p
		cfg = &c
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if len(args) > 0 {
		cfg.Params = args[0]
	}

	if cmd.Flags().Changed("design") {
		design, err := parseDesign(designSpec)
		if err != nil {
			return nil, err
		}
		cfg.Design = design
	}
	if cmd.Flags().Changed("days") {
		cfg.DaysPerPeriod = daysPer
	}
	if cmd.Flags().Changed("patients") {
		cfg.Patients = patients
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}
	if cmd.Flags().Changed("start") {
		cfg.StartDate = startDate
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}
	if cmd.Flags().Changed("dropout") {
		cfg.DropOut.Enabled = withDrop
		if withDrop && !cfg.DropOut.Spec.Enabled() {
			cfg.DropOut.Spec = dropout.Spec{Hazard: config.DefaultHazard, Vacation: config.DefaultVacation}
		}
	}
	if cmd.Flags().Changed("hazard") {
		cfg.DropOut.Spec.Hazard = hazard
		cfg.DropOut.Enabled = true
	}
	if cmd.Flags().Changed("max-days") {
		cfg.DropOut.Spec.MaxDays = maxDays
		cfg.DropOut.Enabled = true
	}
	if cmd.Flags().Changed("vacation") {
		cfg.DropOut.Spec.Vacation = vacation
		cfg.DropOut.Enabled = true
	}

	return cfg, nil
}

// parseDesign reads an inline design like "Treatment_1:14,-:7". A bare
// "-" is a washout period; a period without :days takes the days flag.
func parseDesign(spec string) (study.Design, error) {
	var design study.Design
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, daysStr, hasDays := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if name == "-" {
			name = ""
		}
		period := study.Period{Treatment: name}
		if hasDays {
			n, err := strconv.Atoi(strings.TrimSpace(daysStr))
			if err != nil {
				return nil, fmt.Errorf("design period %q: %w", part, err)
			}
			period.Days = n
		}
		design = append(design, period)
	}
	if len(design) == 0 {
		return nil, fmt.Errorf("empty design %q", spec)
	}
	return design, nil
}

func formatDesign(design study.Design) string {
	parts := make([]string, len(design))
	for i, p := range design {
		name := p.Treatment
		if name == "" {
			name = "-"
		}
		if p.Days > 0 {
			parts[i] = fmt.Sprintf("%s:%d", name, p.Days)
		} else {
			parts[i] = name
		}
	}
	return strings.Join(parts, ",")
}

func runStudy(cmd *cobra.Command, args []string) error {
	cfg, err := resolveRunConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	params, err := study.LoadFile(cfg.Params)
	if err != nil {
		return err
	}
	start, err := cfg.StartTime()
	if err != nil {
		return err
	}
	seedVal, err := random.Resolve(cfg.Seed)
	if err != nil {
		return err
	}

	fmt.Printf("generating %d patients...\n", cfg.Patients)

	result, err := sim.Generate(cmd.Context(), params, sim.Options{
		Design:        cfg.Design,
		DaysPerPeriod: cfg.DaysPerPeriod,
		Patients:      cfg.Patients,
		Seed:          seedVal,
		Dropout:       cfg.DropoutSpec(),
		StartDate:     start,
		Workers:       cfg.Workers,
	})
	if err != nil {
		return err
	}

	opts := dataset.Options{WithDates: !start.IsZero()}
	complete := dataset.FromCohort(params, result.Complete, opts)
	var dropTbl *dataset.Table
	if result.Dropout != nil {
		opts.DropColumn = true
		dropTbl = dataset.FromCohort(params, result.Dropout, opts)
	}

	designJSON, err := json.Marshal(cfg.Design)
	if err != nil {
		return err
	}
	paramsJSON, err := params.Marshal()
	if err != nil {
		return err
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	runID := store.NewRunID(time.Now())
	meta := store.Run{
		ID:        runID,
		CreatedAt: time.Now().UTC(),
		Seed:      seedVal,
		Patients:  cfg.Patients,
		Days:      len(result.Schedule),
		Outcome:   params.Outcome.Name,
		Dropout:   dropTbl != nil,
		Clips:     result.Clips,
		Params:    paramsJSON,
		Design:    designJSON,
	}
	if err := st.SaveRun(cmd.Context(), store.RunData{Run: meta, Complete: complete, DropTbl: dropTbl}); err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", result.Elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("seed: %d\n", seedVal)
	fmt.Printf("days: %d\n", len(result.Schedule))
	fmt.Printf("rows: %d\n", len(complete.Rows))
	if dropTbl != nil {
		fmt.Printf("dropout rows: %d\n", len(dropTbl.Rows))
	}
	if len(result.Clips) > 0 {
		fmt.Println("\nclipped values:")
		names := make([]string, 0, len(result.Clips))
		for name := range result.Clips {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %s: %d\n", name, result.Clips[name])
		}
	}
	if sums := complete.Summarize(params.Outcome.Name); len(sums) > 0 {
		s := sums[0]
		fmt.Printf("\n%s:\n", s.Column)
		fmt.Printf("  mean: %.4f\n", s.Mean)
		fmt.Printf("  std: %.4f\n", s.Std)
		fmt.Printf("  min: %.4f\n", s.Min)
		fmt.Printf("  max: %.4f\n", s.Max)
	}

	return nil
}

func listStudies(cmd *cobra.Command, args []string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tPATIENTS\tDAYS\tOUTCOME\tSEED\tDROPOUT")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%d\t%t\n",
			run.ID,
			run.CreatedAt.Format("2006-01-02 15:04:05"),
			run.Patients,
			run.Days,
			run.Outcome,
			run.Seed,
			run.Dropout,
		)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	meta, err := st.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func plotRun(cmd *cobra.Command, args []string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	meta, err := st.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	tbl, err := st.LoadTable(cmd.Context(), args[0], cohort)
	if err != nil {
		return err
	}

	col := column
	if col == "" {
		col = meta.Outcome
	}
	out, err := viz.PlotColumn(tbl, col, patient, width, height)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("column: %s\n", col)
	fmt.Printf("rows: %d\n\n", len(tbl.Rows))
	fmt.Println(out)
	return nil
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	tbl, err := st.LoadTable(cmd.Context(), args[0], cohort)
	if err != nil {
		return err
	}
	if outPath != "" {
		return dataset.ExportCSV(outPath, tbl)
	}
	return tbl.WriteCSV(os.Stdout)
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	tbl, err := st.LoadTable(cmd.Context(), args[0], cohort)
	if err != nil {
		return err
	}
	if outPath != "" {
		return dataset.ExportJSON(outPath, tbl)
	}
	return tbl.WriteJSON(os.Stdout)
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := resolveRunConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	params, err := study.LoadFile(cfg.Params)
	if err != nil {
		return err
	}
	if err := cfg.Design.Validate(params); err != nil {
		return err
	}
	sched, err := cfg.Design.Expand(cfg.DaysPerPeriod)
	if err != nil {
		return err
	}
	engine, err := causal.New(params)
	if err != nil {
		return err
	}
	seedVal, err := random.Resolve(cfg.Seed)
	if err != nil {
		return err
	}

	m := viz.NewLiveModel(engine, params, sched, seedVal, livePatient)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

func initParams(cmd *cobra.Command, args []string) error {
	params, err := dagitty.ConvertFile(args[0])
	if err != nil {
		return err
	}
	data, err := params.Marshal()
	if err != nil {
		return err
	}
	if outPath == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(outPath, append(data, '\n'), 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", outPath)
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESIGN\tPATIENTS")
	for _, name := range config.ListPresets() {
		p := config.GetPreset(name)
		fmt.Fprintf(w, "%s\t%s\t%d\n", name, formatDesign(p.Design), p.Patients)
	}
	return w.Flush()
}

func serve(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Addr = addr
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = dbPath
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}

	handler := server.NewHandler(st, logger)
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("db", cfg.DBPath))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	srv.Shutdown(context.Background())
	return st.Close()
}
