// Command finmodel runs a template over a sequence of periods for one
// entity and scenario, printing the resulting line items and validation
// report. It is the one place finmodel's core is allowed to acquire
// ambient concerns — logging, configuration, storage wiring — that the
// spec explicitly keeps out of the engine itself (spec §1, §7).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"finmodel"
	"finmodel/config"
	"finmodel/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "finmodel: .env load: %v\n", err)
	}

	templatePath := flag.String("template", "", "path to a template YAML file")
	configPath := flag.String("config", "", "path to a finmodel config YAML file")
	entity := flag.String("entity", "default", "entity name to run")
	scenario := flag.String("scenario", "base", "scenario name to run")
	periodsFlag := flag.String("periods", "1,2,3,4", "comma-separated period numbers, in order")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *templatePath == "" {
		log.Fatal().Msg("finmodel: -template is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	periods, err := parsePeriods(*periodsFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("parsing -periods")
	}

	template, err := config.LoadTemplate(*templatePath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading template")
	}

	storePath := cfg.StorePath
	if storePath == "" {
		storePath = "finmodel.db"
	}
	db, err := store.Open(storePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", storePath).Msg("opening store")
	}
	defer db.Close()

	opening, _, err := db.GetOpeningBalanceSheet(*entity, *scenario)
	if err != nil {
		log.Fatal().Err(err).Msg("loading opening balance sheet")
	}

	orch := finmodel.NewOrchestrator(template, db, db, cfg.Tolerance)

	log.Info().Str("entity", *entity).Str("scenario", *scenario).Ints("periods", periods).Msg("starting run")

	results, runErr := orch.Run(context.Background(), *entity, *scenario, periods, opening)
	for _, r := range results {
		logPeriodResult(r)
	}
	if runErr != nil {
		log.Fatal().Err(runErr).Msg("run failed")
	}

	log.Info().Int("periods_completed", len(results)).Msg("run complete")
}

func logPeriodResult(r finmodel.PeriodResult) {
	evt := log.Info()
	if r.Failed {
		evt = log.Error()
	}
	evt.Str("entity", r.Entity).Str("scenario", r.Scenario).Int("period", r.Period).
		Int("line_items", len(r.Values)).Int("findings", len(r.Report.Findings)).
		Msg("period computed")
	if len(r.Report.Findings) > 0 {
		fmt.Fprint(os.Stderr, r.Report.String())
	}
}

func parsePeriods(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	periods := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid period %q: %w", p, err)
		}
		periods = append(periods, n)
	}
	if len(periods) == 0 {
		return nil, fmt.Errorf("no periods given")
	}
	return periods, nil
}
