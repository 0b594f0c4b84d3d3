// corpus-central is the command line tool that runs the research data
// pipeline: collecting discussion records about the studied project,
// sampling a pilot for double-coding, scoring inter-rater agreement,
// applying the rule-based tagging pass and rendering the final analysis.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"go.afterglow.org/research/corpus-central/go/agreement"
	"go.afterglow.org/research/corpus-central/go/collect"
	"go.afterglow.org/research/corpus-central/go/config"
	"go.afterglow.org/research/corpus-central/go/pilot"
	"go.afterglow.org/research/corpus-central/go/report"
	"go.afterglow.org/research/corpus-central/go/tagging"
	"go.afterglow.org/research/go/sklog"
	"go.afterglow.org/research/go/sklog/sklogimpl"
	"go.afterglow.org/research/go/sklog/stdlogging"
	"go.afterglow.org/research/go/urfavecli"
)

// CollectFlags defines the commandline flags of the collect command.
type CollectFlags struct {
	ConfigFilename string
	OutDir         string
	DryRun         bool
}

// AsCliFlags returns a slice of cli.Flag.
func (flags *CollectFlags) AsCliFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Destination: &flags.ConfigFilename,
			Name:        "config",
			Usage:       "The JSON5 config file describing the studied project.",
			Required:    true,
		},
		&cli.StringFlag{
			Destination: &flags.OutDir,
			Name:        "out",
			Usage:       "Directory the run artifacts are written to. Defaults to the config's output.dir.",
		},
		&cli.BoolFlag{
			Destination: &flags.DryRun,
			Name:        "dry-run",
			Usage:       "Emit synthetic records instead of calling the live APIs.",
		},
	}
}

// PilotFlags defines the commandline flags of the pilot command.
type PilotFlags struct {
	Input    string
	OutDir   string
	Fraction float64
	Seed     int64
}

// AsCliFlags returns a slice of cli.Flag.
func (flags *PilotFlags) AsCliFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Destination: &flags.Input,
			Name:        "input",
			Usage:       "CSV of raw records to sample from, as written by collect.",
			Required:    true,
		},
		&cli.StringFlag{
			Destination: &flags.OutDir,
			Name:        "out",
			Usage:       "Directory the coder sheets are written to.",
			Value:       ".",
		},
		&cli.Float64Flag{
			Destination: &flags.Fraction,
			Name:        "fraction",
			Usage:       "Fraction of the corpus to sample, in (0, 1].",
			Value:       pilot.DefaultFraction,
		},
		&cli.Int64Flag{
			Destination: &flags.Seed,
			Name:        "seed",
			Usage:       "Random seed, fixed so the sample is reproducible.",
			Value:       pilot.DefaultSeed,
		},
	}
}

// AgreementFlags defines the commandline flags of the agreement command.
type AgreementFlags struct {
	Coder1    string
	Coder2    string
	OutDir    string
	Threshold float64
}

// AsCliFlags returns a slice of cli.Flag.
func (flags *AgreementFlags) AsCliFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Destination: &flags.Coder1,
			Name:        "coder1",
			Usage:       "Completed coding sheet of the first coder.",
			Required:    true,
		},
		&cli.StringFlag{
			Destination: &flags.Coder2,
			Name:        "coder2",
			Usage:       "Completed coding sheet of the second coder.",
			Required:    true,
		},
		&cli.StringFlag{
			Destination: &flags.OutDir,
			Name:        "out",
			Usage:       "Directory the agreement artifacts are written to.",
			Value:       ".",
		},
		&cli.Float64Flag{
			Destination: &flags.Threshold,
			Name:        "threshold",
			Usage:       "Minimum Cohen's kappa considered acceptable.",
			Value:       agreement.DefaultThreshold,
		},
	}
}

// TagFlags defines the commandline flags of the tag command.
type TagFlags struct {
	ConfigFilename string
	Input          string
	OutDir         string
}

// AsCliFlags returns a slice of cli.Flag.
func (flags *TagFlags) AsCliFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Destination: &flags.ConfigFilename,
			Name:        "config",
			Usage:       "The JSON5 config file carrying the lifecycle boundaries.",
			Required:    true,
		},
		&cli.StringFlag{
			Destination: &flags.Input,
			Name:        "input",
			Usage:       "CSV of reconciled coded records.",
			Required:    true,
		},
		&cli.StringFlag{
			Destination: &flags.OutDir,
			Name:        "out",
			Usage:       "Directory the tagged records are written to. Defaults to the config's output.dir.",
		},
	}
}

// ReportFlags defines the commandline flags of the report command.
type ReportFlags struct {
	Input     string
	OutDir    string
	RowColumn string
	ColColumn string
}

// AsCliFlags returns a slice of cli.Flag.
func (flags *ReportFlags) AsCliFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Destination: &flags.Input,
			Name:        "input",
			Usage:       "CSV of tagged records, as written by tag.",
			Required:    true,
		},
		&cli.StringFlag{
			Destination: &flags.OutDir,
			Name:        "out",
			Usage:       "Directory the analysis artifacts are written to.",
			Value:       ".",
		},
		&cli.StringFlag{
			Destination: &flags.RowColumn,
			Name:        "row",
			Usage:       "Column on the rows of the chi-square contingency table.",
			Value:       report.DefaultRowColumn,
		},
		&cli.StringFlag{
			Destination: &flags.ColColumn,
			Name:        "col",
			Usage:       "Column on the columns of the chi-square contingency table.",
			Value:       report.DefaultColColumn,
		},
	}
}

func main() {
	collectFlags := CollectFlags{}
	pilotFlags := PilotFlags{}
	agreementFlags := AgreementFlags{}
	tagFlags := TagFlags{}
	reportFlags := ReportFlags{}
	cli.MarkdownDocTemplate = urfavecli.MarkdownDocTemplate
	cliApp := &cli.App{
		Name:  "corpus-central",
		Usage: "Collect, code and analyze public discussion data about the studied project.",
		Before: func(c *cli.Context) error {
			// Log to stdout.
			sklogimpl.SetLogger(stdlogging.New(os.Stdout))
			// API tokens come from the environment; a .env file in the
			// working directory supplies them for local runs.
			if _, err := os.Stat(".env"); err == nil {
				if err := godotenv.Load(); err != nil {
					return err
				}
				sklog.Infof("Loaded environment from .env.")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:        "collect",
				Usage:       "Scrape every enabled discussion source.",
				Description: "Runs the enabled sources in order, anonymizes and filters the records, and writes the raw CSVs, run stats and collection report.",
				Flags:       (&collectFlags).AsCliFlags(),
				Action: func(c *cli.Context) error {
					urfavecli.LogFlags(c)
					cfg := loadConfig(collectFlags.ConfigFilename)
					outDir := collectFlags.OutDir
					if outDir == "" {
						outDir = cfg.Output.Dir
					}
					stats, err := collect.Run(c.Context, cfg, outDir, collectFlags.DryRun)
					if err != nil {
						sklog.Errorf("Collection failed: %s", err)
						return err
					}
					sklog.Infof("Collection finished with %d records and %d errors.", stats.TotalRecords, stats.TotalErrors)
					return nil
				},
			},
			{
				Name:        "pilot",
				Usage:       "Sample a pilot subset for double-coding.",
				Description: "Draws a seeded random sample of the raw corpus and writes one blank coding sheet per coder plus the pilot master file.",
				Flags:       (&pilotFlags).AsCliFlags(),
				Action: func(c *cli.Context) error {
					urfavecli.LogFlags(c)
					sample, err := pilot.Run(pilotFlags.Input, pilotFlags.OutDir, pilotFlags.Fraction, pilotFlags.Seed)
					if err != nil {
						sklog.Errorf("Pilot sampling failed: %s", err)
						return err
					}
					sklog.Infof("Wrote coder sheets for %d pilot records.", len(sample))
					return nil
				},
			},
			{
				Name:        "agreement",
				Usage:       "Score inter-rater agreement on the pilot.",
				Description: "Merges the two completed coding sheets, computes Cohen's kappa on the primary codes and writes the merged pilot, kappa results and the disagreement review sheet.",
				Flags:       (&agreementFlags).AsCliFlags(),
				Action: func(c *cli.Context) error {
					urfavecli.LogFlags(c)
					results, err := agreement.Run(agreementFlags.Coder1, agreementFlags.Coder2, agreementFlags.OutDir, agreementFlags.Threshold)
					if err != nil {
						sklog.Errorf("Agreement scoring failed: %s", err)
						return err
					}
					printConfusionMatrix(results)
					verdict := "meets"
					if !results.MeetsThreshold {
						verdict = "does not meet"
					}
					sklog.Infof("Kappa %.4f (%s) %s the %.2f threshold.", results.CohenKappa, results.Interpretation, verdict, agreementFlags.Threshold)
					return nil
				},
			},
			{
				Name:        "tag",
				Usage:       "Apply the rule-based tagging pass.",
				Description: "Derives the temporal period, resolution status and root cause category for every coded record and writes the tagged CSV.",
				Flags:       (&tagFlags).AsCliFlags(),
				Action: func(c *cli.Context) error {
					urfavecli.LogFlags(c)
					cfg := loadConfig(tagFlags.ConfigFilename)
					outDir := tagFlags.OutDir
					if outDir == "" {
						outDir = cfg.Output.Dir
					}
					tagged, err := tagging.Run(c.Context, cfg.Tagging, tagFlags.Input, outDir)
					if err != nil {
						sklog.Errorf("Tagging failed: %s", err)
						return err
					}
					sklog.Infof("Tagged %d records.", len(tagged))
					return nil
				},
			},
			{
				Name:        "report",
				Usage:       "Render the statistical and qualitative analysis.",
				Description: "Computes frequency distributions and the chi-square test over the tagged corpus and writes the markdown report, JSON results, SVG plots and qualitative examples.",
				Flags:       (&reportFlags).AsCliFlags(),
				Action: func(c *cli.Context) error {
					urfavecli.LogFlags(c)
					results, err := report.Run(c.Context, reportFlags.Input, reportFlags.OutDir, report.Options{
						RowColumn: reportFlags.RowColumn,
						ColColumn: reportFlags.ColColumn,
					})
					if err != nil {
						sklog.Errorf("Report generation failed: %s", err)
						return err
					}
					sklog.Infof("Analyzed %d tagged records.", results.TotalRecords)
					return nil
				},
			},
		},
	}
	err := cliApp.Run(os.Args)
	if err != nil {
		fmt.Printf("\nError: %s\n", err.Error())
		os.Exit(2)
	}
}

// loadConfig reads the instance config or exits, a run can't do anything
// useful without one.
func loadConfig(filename string) *config.InstanceConfig {
	cfg, err := config.LoadFromJSON5(filename)
	if err != nil {
		sklog.Fatalf("Error reading config file %s: %s", filename, err)
	}
	return cfg
}

// printConfusionMatrix renders the coder1 x coder2 confusion matrix to
// stdout so disagreements are visible without opening the review sheet.
func printConfusionMatrix(results *agreement.Results) {
	if len(results.Labels) == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(append([]string{"coder1 / coder2"}, results.Labels...))
	for i, row := range results.Matrix {
		cells := make([]string, 0, len(row)+1)
		cells = append(cells, results.Labels[i])
		for _, n := range row {
			cells = append(cells, strconv.Itoa(n))
		}
		table.Append(cells)
	}
	table.Render()
}
