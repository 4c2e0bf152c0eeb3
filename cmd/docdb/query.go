package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oreline/docdb"
	"github.com/oreline/docdb/mql"
	"github.com/spf13/cobra"
)

func init() {
	insertCmd := &cobra.Command{
		Use:   "insert <collection> <document or array>",
		Short: "Insert documents; an array is inserted atomically",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readArg(args[1])
			if err != nil {
				return err
			}
			docs, err := mql.ParseDocs(text)
			if err != nil {
				return err
			}
			results, err := store.InsertMany(cmd.Context(), args[0], docs)
			if err != nil {
				return err
			}
			for _, r := range results {
				d := docdb.D("insertedKey", r.InsertedKey)
				if len(r.Warnings) > 0 {
					d.Set("warnings", violationStrings(r.Warnings))
				}
				printDoc(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}

	var sortArg, projArg string
	var skip, limit int
	findCmd := &cobra.Command{
		Use:   "find <collection> [filter]",
		Short: "Print matching documents, one per line",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := filterArg(args, 1)
			if err != nil {
				return err
			}
			opt := docdb.FindOptions{Skip: skip, Limit: limit}
			if sortArg != "" {
				if opt.Sort, err = mql.ParseSort(sortArg); err != nil {
					return err
				}
			}
			if projArg != "" {
				if opt.Projection, err = mql.ParseProjection(projArg); err != nil {
					return err
				}
			}
			c, err := store.Find(cmd.Context(), args[0], f, opt)
			if err != nil {
				return err
			}
			return printCursor(cmd.OutOrStdout(), c)
		},
	}
	findCmd.Flags().StringVar(&sortArg, "sort", "", `Sort document, as in {"hours": -1}`)
	findCmd.Flags().StringVar(&projArg, "projection", "", `Projection, as in {"name": 1, "_id": 0}`)
	findCmd.Flags().IntVar(&skip, "skip", 0, "Number of documents to skip")
	findCmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of documents (0 means no limit)")

	countCmd := &cobra.Command{
		Use:   "count <collection> [filter]",
		Short: "Count matching documents",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := filterArg(args, 1)
			if err != nil {
				return err
			}
			n, err := store.Count(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			printDoc(cmd.OutOrStdout(), docdb.D("count", n))
			return nil
		},
	}

	var upsert, multi bool
	updateCmd := &cobra.Command{
		Use:   "update <collection> <filter> <update>",
		Short: "Apply update operators to the first matching document, or all with --multi",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := filterArg(args, 1)
			if err != nil {
				return err
			}
			text, err := readArg(args[2])
			if err != nil {
				return err
			}
			ops, err := mql.ParseUpdate(text)
			if err != nil {
				return err
			}
			res, err := store.Update(cmd.Context(), args[0], f, ops, docdb.UpdateOptions{Upsert: upsert, Multi: multi})
			if err != nil {
				return err
			}
			d := docdb.D("matched", res.MatchedCount, "modified", res.ModifiedCount)
			if res.UpsertedKey != nil {
				d.Set("upsertedKey", res.UpsertedKey)
			}
			if len(res.Warnings) > 0 {
				d.Set("warnings", violationStrings(res.Warnings))
			}
			printDoc(cmd.OutOrStdout(), d)
			return nil
		},
	}
	updateCmd.Flags().BoolVar(&upsert, "upsert", false, "Insert a document when nothing matches")
	updateCmd.Flags().BoolVar(&multi, "multi", false, "Update every matching document")

	var deleteMulti bool
	deleteCmd := &cobra.Command{
		Use:   "delete <collection> <filter>",
		Short: "Delete the first matching document, or all with --multi",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := filterArg(args, 1)
			if err != nil {
				return err
			}
			res, err := store.Delete(cmd.Context(), args[0], f, docdb.DeleteOptions{Multi: deleteMulti})
			if err != nil {
				return err
			}
			printDoc(cmd.OutOrStdout(), docdb.D("deleted", res.DeletedCount))
			return nil
		},
	}
	deleteCmd.Flags().BoolVar(&deleteMulti, "multi", false, "Delete every matching document")

	aggregateCmd := &cobra.Command{
		Use:   "aggregate <collection> <pipeline>",
		Short: "Run an aggregation pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipelineArg(args[1])
			if err != nil {
				return err
			}
			c, err := store.Aggregate(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			return printCursor(cmd.OutOrStdout(), c)
		},
	}

	var explainPipeline bool
	explainCmd := &cobra.Command{
		Use:   "explain <collection> [filter or pipeline]",
		Short: "Show the plan chosen for a filter, or for a pipeline with --pipeline",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plan docdb.PlanDescription
			if explainPipeline {
				if len(args) < 2 {
					return fmt.Errorf("--pipeline needs a pipeline argument")
				}
				p, err := pipelineArg(args[1])
				if err != nil {
					return err
				}
				if plan, err = store.ExplainPipeline(cmd.Context(), args[0], p); err != nil {
					return err
				}
			} else {
				f, err := filterArg(args, 1)
				if err != nil {
					return err
				}
				if plan, err = store.Explain(cmd.Context(), args[0], f); err != nil {
					return err
				}
			}
			data, err := json.Marshal(plan)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	explainCmd.Flags().BoolVar(&explainPipeline, "pipeline", false, "Explain an aggregation pipeline")

	statsCmd := &cobra.Command{
		Use:   "stats <collection>",
		Short: "Show document and index counts and sizes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printDoc(cmd.OutOrStdout(), docdb.D(
				"documents", st.Documents,
				"indexEntries", st.IndexEntries,
				"dataSize", st.DataSize,
				"dataAlloc", st.DataAlloc,
				"indexSize", st.IndexSize,
				"indexAlloc", st.IndexAlloc,
				"indexes", st.Indexes,
			))
			return nil
		},
	}

	expireCmd := &cobra.Command{
		Use:   "expire",
		Short: "Delete documents whose TTL index date has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := store.ExpireDocuments(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			printDoc(cmd.OutOrStdout(), docdb.D("deleted", n))
			return nil
		},
	}

	var dumpDocs bool
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the store layout for debugging",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := docdb.DumpCollectionHeaders | docdb.DumpStats | docdb.DumpIndexes
			if dumpDocs {
				flags |= docdb.DumpDocs | docdb.DumpIndexEntries
			}
			out, err := store.Dump(cmd.Context(), flags)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	dumpCmd.Flags().BoolVar(&dumpDocs, "docs", false, "Include documents and index entries")

	rootCmd.AddCommand(insertCmd, findCmd, countCmd, updateCmd, deleteCmd, aggregateCmd, explainCmd, statsCmd, expireCmd, dumpCmd)
}

func filterArg(args []string, i int) (docdb.Filter, error) {
	text, err := optArg(args, i)
	if err != nil {
		return nil, err
	}
	return mql.ParseFilter(text)
}

func pipelineArg(arg string) (docdb.Pipeline, error) {
	text, err := readArg(arg)
	if err != nil {
		return nil, err
	}
	return mql.ParsePipeline(text)
}
