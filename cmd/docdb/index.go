package main

import (
	"time"

	"github.com/oreline/docdb"
	"github.com/oreline/docdb/mql"
	"github.com/spf13/cobra"
)

func init() {
	var name string
	var unique bool
	var expireAfter time.Duration
	createIndexCmd := &cobra.Command{
		Use:   "create-index <collection> <keys>",
		Short: `Create a secondary index, as in create-index equipment '{"mine._id": 1, "status": 1}'`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readArg(args[1])
			if err != nil {
				return err
			}
			keys, err := mql.ParseIndexKeys(text)
			if err != nil {
				return err
			}
			created, err := store.CreateIndex(cmd.Context(), args[0], docdb.IndexDescriptor{
				Name:        name,
				Keys:        keys,
				Unique:      unique,
				ExpireAfter: expireAfter,
			})
			if err != nil {
				return err
			}
			printDoc(cmd.OutOrStdout(), docdb.D("created", created))
			return nil
		},
	}
	createIndexCmd.Flags().StringVar(&name, "name", "", "Index name (default derived from the keys)")
	createIndexCmd.Flags().BoolVar(&unique, "unique", false, "Reject duplicate keys")
	createIndexCmd.Flags().DurationVar(&expireAfter, "expire-after", 0, "Make a TTL index over a date field")

	dropIndexCmd := &cobra.Command{
		Use:   "drop-index <collection> <name>",
		Short: "Drop a secondary index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return store.DropIndex(cmd.Context(), args[0], args[1])
		},
	}

	indexesCmd := &cobra.Command{
		Use:   "indexes <collection>",
		Short: "List the indexes of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := store.ListIndexes(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, ii := range infos {
				printDoc(cmd.OutOrStdout(), indexDoc(ii))
			}
			return nil
		},
	}

	rootCmd.AddCommand(createIndexCmd, dropIndexCmd, indexesCmd)
}

// indexDoc renders an index the way getIndexes does.
func indexDoc(ii docdb.IndexInfo) *docdb.Doc {
	key := docdb.NewDoc(len(ii.Keys))
	for _, k := range ii.Keys {
		dir := 1
		if k.Desc {
			dir = -1
		}
		key.Set(k.Path, dir)
	}
	d := docdb.D("name", ii.Name, "key", key)
	if ii.Unique && !ii.Primary {
		d.Set("unique", true)
	}
	if ii.Multikey {
		d.Set("multikey", true)
	}
	if ii.ExpireAfter > 0 {
		d.Set("expireAfterSeconds", int64(ii.ExpireAfter/time.Second))
	}
	d.Set("entries", ii.Entries)
	return d
}
