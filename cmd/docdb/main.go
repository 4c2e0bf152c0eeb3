package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/oreline/docdb"
	"github.com/oreline/docdb/mql"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dbPath  string
	verbose bool
	devLog  bool

	store  *docdb.Store
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "docdb",
	Short: "Query and maintain a docdb store",
	Long: `docdb runs queries, updates and aggregation pipelines against a docdb store file.
Filters, updates, pipelines and schemas are written as MongoDB extended JSON.
An argument of the form @path reads the JSON from a file, and - reads it from stdin.`,
	SilenceUsage:       true,
	PersistentPreRunE:  openStore,
	PersistentPostRunE: closeStore,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "docdb.db", "Store file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every write and index scan")
	rootCmd.PersistentFlags().BoolVar(&devLog, "dev-log", false, "Human-readable development logging")
}

func openStore(cmd *cobra.Command, args []string) error {
	if err := closeStore(cmd, args); err != nil {
		return err
	}
	var err error
	if devLog {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	store, err = docdb.Open(dbPath, docdb.Options{Logger: logger, Verbose: verbose})
	if err != nil {
		return err
	}
	return nil
}

func closeStore(cmd *cobra.Command, args []string) error {
	if store == nil {
		return nil
	}
	err := store.Close()
	store = nil
	_ = logger.Sync()
	return err
}

// readArg returns the JSON text of an argument, loading @file and - from
// their sources.
func readArg(arg string) (string, error) {
	switch {
	case arg == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return arg, nil
}

func optArg(args []string, i int) (string, error) {
	if i >= len(args) {
		return "", nil
	}
	return readArg(args[i])
}

func printDoc(w io.Writer, d *docdb.Doc) {
	fmt.Fprintln(w, d.String())
}

func printCursor(w io.Writer, c *docdb.Cursor) error {
	defer c.Close()
	for c.Next() {
		printDoc(w, c.Doc())
	}
	return c.Err()
}

func violationStrings(vs []docdb.Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	var keyField, schemaArg, level, action string
	createCollectionCmd := &cobra.Command{
		Use:   "create-collection <name>",
		Short: "Create a collection, optionally with a $jsonSchema validator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opt := docdb.CollectionOptions{KeyField: keyField}
			if schemaArg != "" {
				text, err := readArg(schemaArg)
				if err != nil {
					return err
				}
				if opt.Schema, err = mql.ParseJSONSchema(text); err != nil {
					return err
				}
			}
			var err error
			if opt.Policy, err = mql.ParseValidationPolicy(level, action); err != nil {
				return err
			}
			return store.CreateCollection(cmd.Context(), args[0], opt)
		},
	}
	createCollectionCmd.Flags().StringVar(&keyField, "key-field", "", "Primary key field (default _id)")
	createCollectionCmd.Flags().StringVar(&schemaArg, "schema", "", "$jsonSchema validator")
	createCollectionCmd.Flags().StringVar(&level, "validation-level", "strict", "strict, moderate or off")
	createCollectionCmd.Flags().StringVar(&action, "validation-action", "error", "error or warn")

	var setSchemaArg, setLevel, setAction string
	setValidationCmd := &cobra.Command{
		Use:   "set-validation <collection>",
		Short: "Replace the validator of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var spec *docdb.FieldSpec
			if setSchemaArg != "" {
				text, err := readArg(setSchemaArg)
				if err != nil {
					return err
				}
				if spec, err = mql.ParseJSONSchema(text); err != nil {
					return err
				}
			}
			policy, err := mql.ParseValidationPolicy(setLevel, setAction)
			if err != nil {
				return err
			}
			return store.SetValidation(cmd.Context(), args[0], spec, policy)
		},
	}
	setValidationCmd.Flags().StringVar(&setSchemaArg, "schema", "", "$jsonSchema validator (none removes validation)")
	setValidationCmd.Flags().StringVar(&setLevel, "validation-level", "strict", "strict, moderate or off")
	setValidationCmd.Flags().StringVar(&setAction, "validation-action", "error", "error or warn")

	dropCollectionCmd := &cobra.Command{
		Use:   "drop-collection <name>",
		Short: "Drop a collection with its documents and indexes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return store.DropCollection(cmd.Context(), args[0])
		},
	}

	collectionsCmd := &cobra.Command{
		Use:   "collections",
		Short: "List collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := store.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			for _, ci := range infos {
				d := docdb.D("name", ci.Name, "keyField", ci.KeyField, "validation", ci.Policy.String(), "indexes", ci.Indexes, "created", ci.Created)
				if ci.Schema != nil {
					d.Set("validated", true)
				}
				printDoc(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}

	rootCmd.AddCommand(createCollectionCmd, setValidationCmd, dropCollectionCmd, collectionsCmd)
}
