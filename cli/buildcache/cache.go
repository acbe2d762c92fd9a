package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Cache maintenance: verify and clean the content-addressed store",
	}
	cmd.AddCommand(newCacheVerifyCmd())
	cmd.AddCommand(newCacheCleanCmd())
	return cmd
}

func newCacheVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every stored blob still hashes to its content integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}

			objects, err := store.Objects()
			if err != nil {
				return err
			}

			corrupt := 0
			for _, obj := range objects {
				ok, err := store.VerifyIntegrity(obj.Integrity)
				if err != nil {
					return fmt.Errorf("buildcache: verify %s: %w", obj.Integrity, err)
				}
				if !ok {
					corrupt++
					fmt.Fprintf(os.Stderr, "corrupt blob: %s\n", obj.Integrity)
				}
			}

			fmt.Printf("checked %d blob(s), %d corrupt\n", len(objects), corrupt)
			if corrupt > 0 {
				return fmt.Errorf("buildcache: %d corrupt blob(s) found", corrupt)
			}
			return nil
		},
	}
}

func newCacheCleanCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove every corrupt blob from the content-addressed store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}

			objects, err := store.Objects()
			if err != nil {
				return err
			}

			removed := 0
			for _, obj := range objects {
				ok, err := store.VerifyIntegrity(obj.Integrity)
				if err != nil {
					return fmt.Errorf("buildcache: verify %s: %w", obj.Integrity, err)
				}
				if ok {
					continue
				}
				if dryRun {
					fmt.Printf("would remove %s\n", obj.Integrity)
					continue
				}
				if err := store.RemoveIntegrity(obj.Integrity); err != nil {
					return fmt.Errorf("buildcache: remove %s: %w", obj.Integrity, err)
				}
				removed++
			}

			fmt.Printf("removed %d corrupt blob(s) of %d checked\n", removed, len(objects))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without deleting")
	return cmd
}
