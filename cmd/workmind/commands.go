package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/0xcro3dile/workmind-go/internal/adapters/knowledge"
	"github.com/0xcro3dile/workmind-go/internal/adapters/loader"
	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/usecases"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the knowledge corpus against the slot table",
	Long: `Loads the configured knowledge corpus and fails on any configuration
error: template placeholders the injector does not fill, a slot-set version
mismatch, layers sharing a precedence, or a department without its layer.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kb, err := openKnowledge(cfg, logger)
		if err != nil {
			return err
		}

		injector := usecases.NewContextInjector()
		compiler := usecases.NewTemplateCompiler(logger)
		for _, dept := range kb.Departments() {
			gov, err := kb.Governance(dept)
			if err != nil {
				return err
			}
			out, err := compiler.Compile(gov.Template, dept, gov.Layers, injector.Inject(nil, dept), nil)
			if err != nil {
				return fmt.Errorf("department %s: %w", dept, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s layers=%s\n", dept, strings.Join(out.LayerIDs, ","))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "corpus %s is valid (%d departments)\n", kb.Source(), len(kb.Departments()))
		return nil
	},
}

var (
	compileDepartment string
	compileProfile    string
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Print the instruction compiled for a department",
	Long: `Compiles the governing instruction for one department from the knowledge
corpus and an optional YAML business profile, without evidence.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var profile *entities.BusinessProfile
		if compileProfile != "" {
			data, err := os.ReadFile(compileProfile)
			if err != nil {
				return fmt.Errorf("reading profile: %w", err)
			}
			profile = &entities.BusinessProfile{}
			if err := yaml.Unmarshal(data, profile); err != nil {
				return fmt.Errorf("parsing profile: %w", err)
			}
		}

		kb, err := openKnowledge(cfg, logger)
		if err != nil {
			return err
		}
		gov, err := kb.Governance(compileDepartment)
		if err != nil {
			return err
		}
		out, err := usecases.NewTemplateCompiler(logger).Compile(
			gov.Template,
			gov.Department,
			gov.Layers,
			usecases.NewContextInjector().Inject(profile, gov.Department),
			nil,
		)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Text)
		return nil
	},
}

var (
	ingestDepartment string
	ingestPinned     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file or directory...]",
	Short: "Add evidence documents to a department",
	Long: `Stores files as evidence for one department. Directories are walked
for supported extensions. Documents are add-only: ingesting a file twice
stores two documents.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kb, err := openKnowledge(cfg, logger)
		if err != nil {
			return err
		}
		department, err := kb.Canonical(ingestDepartment)
		if err != nil {
			return err
		}

		st, closeStore, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		ingest := usecases.NewIngestUseCase(st, cfg.Evidence.MaxUploadBytes, logger)
		fl := loader.NewFileLoader(usecases.SupportedExtensions(), int64(ingest.MaxBytes()))

		var paths []string
		for _, arg := range args {
			info, err := os.Stat(arg)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				paths = append(paths, arg)
				continue
			}
			found, err := fl.Walk(ctx, arg)
			if err != nil {
				return err
			}
			paths = append(paths, found...)
		}

		failed := 0
		for _, path := range paths {
			name, data, err := fl.Load(ctx, path)
			if err == nil {
				var doc *entities.EvidenceDocument
				if doc, err = ingest.Ingest(ctx, department, name, data, ingestPinned); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", doc.ID, doc.MimeType, path)
					continue
				}
			}
			failed++
			logger.Error("ingest failed", zap.String("path", path), zap.Error(err))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(paths))
		}
		return nil
	},
}

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Print the built-in knowledge corpus",
	Long: `Writes the embedded governance corpus as YAML. Save it, edit it and point
knowledge.corpus_path at the copy to customize the experts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := cmd.OutOrStdout().Write(knowledge.DefaultCorpus())
		return err
	},
}

func init() {
	compileCmd.Flags().StringVarP(&compileDepartment, "department", "d", "", "Department to compile for")
	compileCmd.Flags().StringVarP(&compileProfile, "profile", "p", "", "Business profile YAML")
	_ = compileCmd.MarkFlagRequired("department")

	ingestCmd.Flags().StringVarP(&ingestDepartment, "department", "d", "", "Department that owns the documents")
	ingestCmd.Flags().BoolVar(&ingestPinned, "pinned", false, "Always include these documents first")
	_ = ingestCmd.MarkFlagRequired("department")
}
