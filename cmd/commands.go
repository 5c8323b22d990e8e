package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"brief-engine/internal/answer"
	"brief-engine/internal/brief"
	"brief-engine/internal/ingest"
	"brief-engine/internal/library"
	"brief-engine/internal/models"
)

var (
	orgID        string
	projectID    string
	oppID        string
	questionID   string
	docKeys      []string
	ingestKind   string
	documentID   string
	section      string
	libTags      []string
	vectorImport bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Parse, embed and index a document",
	Long: `Extracts text from a PDF, DOCX, PPTX, XLSX, XLSM, TXT or Markdown file,
indexes its chunks in the organization namespace and stores the full text so it
can be loaded as solicitation context.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := ingest.ParseKind(ingestKind)
		if err != nil {
			return err
		}
		res, err := engine.Ingester.Ingest(cmd.Context(), ingest.Request{
			OrgID:      orgID,
			Kind:       kind,
			Path:       args[0],
			DocumentID: documentID,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Manage approved question/answer pairs",
}

var libraryAddCmd = &cobra.Command{
	Use:   "add <question> <answer>",
	Short: "Add an approved answer to the content library",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := engine.Library.Add(cmd.Context(), models.LibraryItem{
			OrgID:    orgID,
			Question: args[0],
			Answer:   args[1],
			Tags:     libTags,
		})
		if err != nil {
			return err
		}
		return printJSON(item)
	},
}

var libraryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List library items for an organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := library.List(cmd.Context(), engine.Docs, orgID)
		if err != nil {
			return err
		}
		return printJSON(items)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one questionnaire question and store the result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ans, err := engine.Answers.Answer(cmd.Context(), answer.Request{
			ProjectID:    projectID,
			OrgID:        orgID,
			QuestionID:   questionID,
			Question:     strings.Join(args, " "),
			DocumentKeys: docKeys,
		})
		if err != nil {
			return err
		}
		return printJSON(ans)
	},
}

var answersCmd = &cobra.Command{
	Use:   "answers",
	Short: "Inspect stored answers",
}

var answersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List answers stored for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := answer.NewRepository(engine.Docs).List(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		return printJSON(list)
	},
}

var briefCmd = &cobra.Command{
	Use:   "brief",
	Short: "Create, generate and inspect opportunity briefs",
}

var briefCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a brief with every section idle",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := engine.Briefs.Create(cmd.Context(), briefRef(), orgID, docKeys)
		if err != nil {
			return err
		}
		return printJSON(b)
	},
}

var briefRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate one section, or all sections concurrently",
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := briefRef()
		if section != "" {
			name := models.SectionName(section)
			if !name.Valid() {
				return fmt.Errorf("unknown section %q", section)
			}
			out, err := engine.Runner.RunSection(cmd.Context(), ref, name)
			if err != nil {
				return err
			}
			return printJSON(out)
		}

		outcomes, runErr := engine.Runner.RunAll(cmd.Context(), ref)
		if runErr != nil {
			log.Warn().Err(runErr).Msg("Some sections failed")
		}
		b, err := engine.Briefs.Get(cmd.Context(), ref)
		if err != nil {
			return errors.Join(runErr, err)
		}
		if err := printJSON(map[string]any{"outcomes": outcomes, "brief": b}); err != nil {
			return err
		}
		return runErr
	},
}

var briefShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a brief with its derived status",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := engine.Briefs.Get(cmd.Context(), briefRef())
		if err != nil {
			return err
		}
		return printJSON(b)
	},
}

var vectorCmd = &cobra.Command{
	Use:   "vector",
	Short: "Export or import an organization's vector namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		if vectorImport {
			if err := engine.Vectors.Import(orgID); err != nil {
				return err
			}
			log.Info().Str("org", orgID).Msg("Imported vector namespace")
			return nil
		}
		if err := engine.Vectors.Export(orgID); err != nil {
			return err
		}
		log.Info().Str("org", orgID).Msg("Exported vector namespace")
		return nil
	},
}

func briefRef() brief.Ref {
	return brief.Ref{ProjectID: projectID, OpportunityID: oppID}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&orgID, "org", "", "Organization ID (vector namespace)")

	ingestCmd.Flags().StringVar(&ingestKind, "kind", string(ingest.KindSolicitation), "Document kind: solicitation, kb or past-performance")
	ingestCmd.Flags().StringVar(&documentID, "id", "", "Document ID (defaults to a new UUID)")

	libraryAddCmd.Flags().StringSliceVar(&libTags, "tag", nil, "Tags for the library item")
	libraryCmd.AddCommand(libraryAddCmd, libraryListCmd)

	askCmd.Flags().StringVar(&projectID, "project", "", "Project ID")
	askCmd.Flags().StringVar(&questionID, "question-id", "", "Question ID within the project")
	askCmd.Flags().StringSliceVar(&docKeys, "doc", nil, "Solicitation blob keys to load as context")

	answersListCmd.Flags().StringVar(&projectID, "project", "", "Project ID")
	answersCmd.AddCommand(answersListCmd)

	for _, c := range []*cobra.Command{briefCreateCmd, briefRunCmd, briefShowCmd} {
		c.Flags().StringVar(&projectID, "project", "", "Project ID")
		c.Flags().StringVar(&oppID, "opportunity", "", "Opportunity ID")
	}
	briefCreateCmd.Flags().StringSliceVar(&docKeys, "doc", nil, "Solicitation blob keys the brief is built from")
	briefRunCmd.Flags().StringVar(&section, "section", "", "Run only this section")
	briefCmd.AddCommand(briefCreateCmd, briefRunCmd, briefShowCmd)

	vectorCmd.Flags().BoolVar(&vectorImport, "import", false, "Import instead of export")

	rootCmd.AddCommand(ingestCmd, libraryCmd, askCmd, answersCmd, briefCmd, vectorCmd)
}
